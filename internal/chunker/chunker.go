// Package chunker implements spec §4.6's Content Chunker: splitting
// aggregated, page-marked content into token-bounded chunks that preserve
// page boundaries where possible, with a recursive fallback split and a
// final validation sweep that never truncates.
package chunker

import (
	"strings"

	"github.com/sells-group/profilecore/internal/model"
)

const (
	pageStartMarker = "--- PAGE START:"
	pageEndMarker   = "--- PAGE END ---"
	defaultGroupTargetTokens = 20_000
	minCharSplit             = 100
)

// TokenEstimator estimates the token count of a string. Swappable for a
// real tokenizer; spec treats this as an external collaborator.
type TokenEstimator func(s string) int

// DefaultTokenEstimator is a deterministic stand-in: ~4 characters per
// token, the common rough estimate for English/Portuguese prose.
func DefaultTokenEstimator(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Config bounds the chunker.
type Config struct {
	EffectiveMaxTokens int
	GroupTargetTokens  int
	Estimator          TokenEstimator
}

func (c Config) groupTarget() int {
	if c.GroupTargetTokens <= 0 {
		return defaultGroupTargetTokens
	}
	return c.GroupTargetTokens
}

func (c Config) estimator() TokenEstimator {
	if c.Estimator == nil {
		return DefaultTokenEstimator
	}
	return c.Estimator
}

// page is one "--- PAGE START: <url> ---\n...\n--- PAGE END ---" piece.
type page struct {
	url  string
	body string
}

// Chunk splits aggregated content into token-bounded chunks per spec
// §4.6's five-step algorithm.
func Chunk(content string, cfg Config) []model.Chunk {
	est := cfg.estimator()
	pages := splitPages(content)

	var pieces []page
	for _, p := range pages {
		// Budget the body so that, once groupPieces wraps it in its page
		// markers, the piece still fits within EffectiveMaxTokens.
		budget := cfg.EffectiveMaxTokens - est(pageStartMarker+" "+p.url+" ---\n\n"+pageEndMarker) - 1
		if budget < 1 {
			budget = 1
		}
		if est(p.body) <= budget {
			pieces = append(pieces, p)
			continue
		}
		pieces = append(pieces, recursiveSplit(p, budget, est)...)
	}

	chunks := groupPieces(pieces, cfg.EffectiveMaxTokens, cfg.groupTarget(), est)
	chunks = validateSweep(chunks, cfg.EffectiveMaxTokens, est)
	return renumber(chunks)
}

// splitPages recovers per-page pieces by splitting on the literal
// "--- PAGE START:" marker.
func splitPages(content string) []page {
	if !strings.Contains(content, pageStartMarker) {
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []page{{url: "", body: content}}
	}

	var pages []page
	parts := strings.Split(content, pageStartMarker)
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		u, body := parsePagePart(part)
		pages = append(pages, page{url: u, body: body})
	}
	return pages
}

func parsePagePart(part string) (url, body string) {
	idx := strings.IndexByte(part, '\n')
	if idx < 0 {
		return strings.TrimSpace(strings.TrimSuffix(part, "---")), ""
	}
	header := part[:idx]
	url = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(header), "---"))
	body = part[idx+1:]
	body = strings.TrimSuffix(strings.TrimSpace(body), pageEndMarker)
	return url, strings.TrimSpace(body)
}

// recursiveSplit splits an oversized page piece: paragraphs, then lines,
// then characters with a rightmost-space/newline clean break preference.
func recursiveSplit(p page, maxTokens int, est TokenEstimator) []page {
	return splitByUnit(p, maxTokens, est, splitParagraphs)
}

type splitter func(string) []string

func splitByUnit(p page, maxTokens int, est TokenEstimator, split splitter) []page {
	units := split(p.body)
	if len(units) <= 1 {
		return charSplit(p, maxTokens, est)
	}

	var out []page
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, page{url: p.url, body: cur.String()})
			cur.Reset()
		}
	}

	for _, u := range units {
		candidate := u
		if cur.Len() > 0 {
			candidate = cur.String() + "\n\n" + u
		}
		if est(candidate) <= maxTokens {
			cur.Reset()
			cur.WriteString(candidate)
			continue
		}

		flush()
		if est(u) > maxTokens {
			// This single unit is still too big: recurse one level down
			// (paragraphs -> lines -> chars).
			out = append(out, deeperSplit(page{url: p.url, body: u}, maxTokens, est)...)
		} else {
			cur.WriteString(u)
		}
	}
	flush()
	return out
}

func deeperSplit(p page, maxTokens int, est TokenEstimator) []page {
	lines := splitLines(p.body)
	if len(lines) > 1 {
		return splitByUnit(p, maxTokens, est, splitLines)
	}
	return charSplit(p, maxTokens, est)
}

func splitParagraphs(body string) []string {
	return nonEmpty(strings.Split(body, "\n\n"))
}

func splitLines(body string) []string {
	return nonEmpty(strings.Split(body, "\n"))
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// charSplit implements spec §4.6 step 2's character-level fallback:
// chars_per_token = total_chars/total_tokens, max_chars = 0.85 * maxTokens
// * chars_per_token (floor 100), preferring the rightmost space/newline in
// the last 30% of the window.
func charSplit(p page, maxTokens int, est TokenEstimator) []page {
	totalTokens := est(p.body)
	if totalTokens == 0 {
		return nil
	}
	charsPerToken := float64(len(p.body)) / float64(totalTokens)
	maxChars := int(0.85 * float64(maxTokens) * charsPerToken)
	if maxChars < minCharSplit {
		maxChars = minCharSplit
	}

	var out []page
	remaining := p.body
	for len(remaining) > 0 {
		if len(remaining) <= maxChars {
			out = append(out, page{url: p.url, body: remaining})
			break
		}

		window := remaining[:maxChars]
		breakAt := bestBreak(window, maxChars)
		out = append(out, page{url: p.url, body: remaining[:breakAt]})
		remaining = strings.TrimLeft(remaining[breakAt:], " \n")
	}
	return out
}

func bestBreak(window string, maxChars int) int {
	searchFrom := int(float64(maxChars) * 0.7)
	if searchFrom < 0 {
		searchFrom = 0
	}
	best := -1
	for i := len(window) - 1; i >= searchFrom; i-- {
		if window[i] == ' ' || window[i] == '\n' {
			best = i
			break
		}
	}
	if best < 0 {
		return maxChars
	}
	return best
}

// groupPieces implements spec §4.6 step 3: walk fragments in order,
// appending to a growing chunk separated by blank lines, starting a new
// chunk whenever adding the next piece would exceed EffectiveMaxTokens.
func groupPieces(pieces []page, maxTokens, groupTarget int, est TokenEstimator) []model.Chunk {
	var chunks []model.Chunk
	var curBody strings.Builder
	var curPages []string
	var curTokens int

	flush := func() {
		if curBody.Len() == 0 {
			return
		}
		chunks = append(chunks, model.Chunk{
			Content:       curBody.String(),
			Tokens:        curTokens,
			PagesIncluded: capPages(curPages),
		})
		curBody.Reset()
		curPages = nil
		curTokens = 0
	}

	for _, p := range pieces {
		marked := pageStartMarker + " " + p.url + " ---\n" + p.body + "\n" + pageEndMarker
		pieceTokens := est(marked)

		candidateTokens := curTokens + pieceTokens
		if curBody.Len() > 0 {
			candidateTokens = curTokens + pieceTokens // separator negligible for estimate
		}

		if curBody.Len() > 0 && candidateTokens > maxTokens {
			flush()
		}

		if curBody.Len() > 0 {
			curBody.WriteString("\n\n")
		}
		curBody.WriteString(marked)
		curTokens += pieceTokens
		if p.url != "" {
			curPages = append(curPages, p.url)
		}

		if curTokens >= groupTarget {
			flush()
		}
	}
	flush()
	return chunks
}

func capPages(pages []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range pages {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) >= 5 {
			break
		}
	}
	return out
}

// validateSweep re-splits any chunk still exceeding the limit (never
// truncating), per spec §4.6 step 5.
func validateSweep(chunks []model.Chunk, maxTokens int, est TokenEstimator) []model.Chunk {
	var out []model.Chunk
	for _, c := range chunks {
		if c.Tokens <= maxTokens {
			out = append(out, c)
			continue
		}
		resplit := Chunk(c.Content, Config{EffectiveMaxTokens: maxTokens, Estimator: est})
		out = append(out, resplit...)
	}
	return out
}

func renumber(chunks []model.Chunk) []model.Chunk {
	total := len(chunks)
	for i := range chunks {
		chunks[i].Index = i + 1
		chunks[i].TotalChunks = total
	}
	return chunks
}

package discovery

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profilecore/internal/llmcall"
	"github.com/sells-group/profilecore/internal/model"
)

// blacklistedDomains are aggregator/directory domains that are never a
// company's own official website, filtered out before any LLM call is
// spent on them.
var blacklistedDomains = []string{
	"facebook.com", "instagram.com", "linkedin.com", "twitter.com", "x.com",
	"youtube.com", "google.com", "maps.google.com", "yelp.com",
	"mercadolivre.com.br", "olx.com.br", "indeed.com", "glassdoor.com",
	"wikipedia.org", "gov.br", "receita.fazenda.gov.br",
}

const websiteDiscoverySystemPrompt = `You are confirming the official website of a Brazilian company given its registered name and a list of search results. Return a JSON object {"site": "<best candidate URL or empty string>", "site_oficial": <true|false>, "justificativa": "<one short sentence>"}. Prefer a candidate whose domain closely matches the company's name. Never pick a social media, marketplace, or government registry page.`

// WebsiteCandidate is one search-result candidate considered for a
// company's official site.
type WebsiteCandidate struct {
	URL     string
	Title   string
	Snippet string
}

// WebsiteResult is the discovery LLM's verdict for one company.
type WebsiteResult struct {
	Site          string `json:"site"`
	SiteOficial   bool   `json:"site_oficial"`
	Justificativa string `json:"justificativa"`
}

// isBlacklistedDomain reports whether a URL's host matches a known
// aggregator/directory domain.
func isBlacklistedDomain(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, d := range blacklistedDomains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// deterministicNameMatch is a shortcut: if a candidate's host contains a
// normalized, de-accented form of the company name, skip the LLM call
// entirely and accept it directly.
func deterministicNameMatch(companyName string, candidates []WebsiteCandidate) *WebsiteResult {
	normalized := normalizeForDomainMatch(companyName)
	if normalized == "" {
		return nil
	}
	for _, c := range candidates {
		if isBlacklistedDomain(c.URL) {
			continue
		}
		host := normalizeForDomainMatch(c.URL)
		if strings.Contains(host, normalized) {
			return &WebsiteResult{Site: c.URL, SiteOficial: true, Justificativa: "deterministic name match"}
		}
	}
	return nil
}

var corporateSuffixes = []string{" ltda", " s.a.", " sa", " me", " eireli", " epp"}

// normalizeForDomainMatch strips corporate suffixes, spaces and common
// accented characters so "Acme Indústria Ltda" and "acmeindustria.com.br"
// compare equal on their shared core token.
func normalizeForDomainMatch(s string) string {
	lower := strings.ToLower(s)
	for _, suf := range corporateSuffixes {
		lower = strings.TrimSuffix(lower, suf)
	}
	replacer := strings.NewReplacer(
		"á", "a", "à", "a", "â", "a", "ã", "a",
		"é", "e", "ê", "e", "í", "i", "ó", "o", "õ", "o", "ô", "o",
		"ú", "u", "ç", "c",
		" ", "", "-", "", ".", "", "/", "",
	)
	return replacer.Replace(lower)
}

// DiscoverWebsite implements spec §4.12's discovery helper: a domain
// blacklist pre-filter, a deterministic name-match shortcut, and an LLM
// fallback call (HIGH priority, since discovery gates the rest of the
// per-company pipeline) producing a {site, site_oficial, justificativa}
// verdict.
func DiscoverWebsite(ctx context.Context, dispatcher *llmcall.Manager, companyName string, candidates []WebsiteCandidate, estimatedTokens int) (*WebsiteResult, error) {
	var filtered []WebsiteCandidate
	for _, c := range candidates {
		if !isBlacklistedDomain(c.URL) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return &WebsiteResult{Justificativa: "no non-blacklisted candidates"}, nil
	}

	if shortcut := deterministicNameMatch(companyName, filtered); shortcut != nil {
		return shortcut, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Company: " + companyName + "\n\nCandidates:\n")
	for _, c := range filtered {
		prompt.WriteString("- " + c.URL + " | " + c.Title + " | " + c.Snippet + "\n")
	}

	res, err := dispatcher.Dispatch(ctx, model.PriorityHigh, websiteDiscoverySystemPrompt, prompt.String(), estimatedTokens)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: website call")
	}

	var out WebsiteResult
	if err := json.Unmarshal([]byte(stripFences(res.Content)), &out); err != nil {
		return nil, eris.Wrap(err, "discovery: parse website result")
	}
	return &out, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

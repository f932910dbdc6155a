package discovery

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/llmcall"
	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/scraper"
)

const linkSelectSystemPrompt = `You are choosing which subpages of a company website are worth scraping for a business research profile. Given the homepage URL and a list of discovered links, return a JSON object {"links": [string]} containing only the subpages likely to hold company information: about/institutional, products/services, clients, certifications, awards, partnerships, contact, leadership. Never include login, cart, blog, policy, or pagination links. Preserve the original URL strings exactly.`

// SelectSubpages implements spec §4.12's link-selector: an LLM call is
// tried first (it reasons about page intent, not just keyword overlap),
// falling back to the heuristic scorer in internal/scraper when the call
// fails or returns nothing usable.
func SelectSubpages(ctx context.Context, dispatcher *llmcall.Manager, homepageURL string, links []string, maxSubpages int, estimatedTokens int) []string {
	if dispatcher == nil {
		return scraper.SelectLinks(links, maxSubpages)
	}

	selected, err := selectSubpagesViaLLM(ctx, dispatcher, homepageURL, links, estimatedTokens)
	if err != nil {
		zap.L().Warn("discovery: link selection LLM call failed, falling back to heuristic scorer", zap.Error(err))
		return scraper.SelectLinks(links, maxSubpages)
	}

	filtered := intersect(selected, links)
	if len(filtered) == 0 {
		return scraper.SelectLinks(links, maxSubpages)
	}
	if len(filtered) > maxSubpages {
		filtered = filtered[:maxSubpages]
	}
	return filtered
}

func selectSubpagesViaLLM(ctx context.Context, dispatcher *llmcall.Manager, homepageURL string, links []string, estimatedTokens int) ([]string, error) {
	var prompt strings.Builder
	prompt.WriteString("Homepage: " + homepageURL + "\n\nDiscovered links:\n")
	for _, l := range links {
		prompt.WriteString("- " + l + "\n")
	}

	res, err := dispatcher.Dispatch(ctx, model.PriorityHigh, linkSelectSystemPrompt, prompt.String(), estimatedTokens)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: link select call")
	}

	var out struct {
		Links []string `json:"links"`
	}
	if err := json.Unmarshal([]byte(stripFences(res.Content)), &out); err != nil {
		return nil, eris.Wrap(err, "discovery: parse link select result")
	}
	return out.Links, nil
}

// intersect keeps only the LLM-selected links that the crawler actually
// discovered, in the crawler's original order, guarding against the LLM
// inventing or mangling a URL.
func intersect(selected, discovered []string) []string {
	allowed := make(map[string]bool, len(selected))
	for _, s := range selected {
		allowed[s] = true
	}
	var out []string
	for _, d := range discovered {
		if allowed[d] {
			out = append(out, d)
		}
	}
	return out
}

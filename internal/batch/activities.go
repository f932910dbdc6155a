package batch

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profilecore/internal/chunker"
	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/scraper"
	"github.com/sells-group/profilecore/internal/store"
)

// Activities bundles the Temporal activity implementations for one
// company's scrape->chunk->persist flow (§4.11 per-company processing).
// Each activity is a thin wrapper over an already-built collaborator so the
// activity layer stays free of wiring concerns.
type Activities struct {
	Scraper     *scraper.Pipeline
	ChunkerCfg  chunker.Config
	Store       store.Store
	MaxSubpages int
}

// ScrapeActivityInput is the Temporal activity payload for the scrape step.
type ScrapeActivityInput struct {
	CNPJBasico string
	WebsiteURL string
	RequestID  string
}

// ScrapeActivity runs §4.5 scrape_all_subpages for one company.
func (a *Activities) ScrapeActivity(ctx context.Context, in ScrapeActivityInput) (*model.ScrapeResult, error) {
	maxSubpages := a.MaxSubpages
	if maxSubpages <= 0 {
		maxSubpages = 15
	}
	result, err := a.Scraper.ScrapeAllSubpages(ctx, in.WebsiteURL, maxSubpages, in.RequestID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: scrape activity for %s", in.CNPJBasico)
	}
	return result, nil
}

// ChunkActivityInput is the Temporal activity payload for the chunk step.
type ChunkActivityInput struct {
	CNPJBasico string
	Content    string
}

// ChunkActivity runs §4.6's chunker over the aggregated scrape content.
func (a *Activities) ChunkActivity(_ context.Context, in ChunkActivityInput) ([]model.Chunk, error) {
	return chunker.Chunk(in.Content, a.ChunkerCfg), nil
}

// PersistActivity flushes one instance's result buffer via the mega-batch
// write (§4.11 point 6: one row per chunk on success, one marker row on
// failure).
func (a *Activities) PersistActivity(ctx context.Context, rows []model.CompanyResult) error {
	if len(rows) == 0 {
		return nil
	}
	return eris.Wrap(a.Store.SaveScrapeResultsMegaBatch(ctx, rows), "batch: persist activity")
}

// BuildCompanyResults turns one company's scrape+chunk outcome into the
// per-chunk success rows (or the single failure marker row) spec §4.11
// point 6 describes. visitedURLs feeds the §4.11 point 5 pages_included
// fallback (first 5 visited URLs) when a chunk left it empty.
func BuildCompanyResults(company model.PendingCompany, scrapeErrSummary string, chunks []model.Chunk, visitedURLs []string, retryCount int, processingMS float64) []model.CompanyResult {
	if scrapeErrSummary != "" {
		return []model.CompanyResult{{
			CNPJBasico:   company.CNPJBasico,
			DiscoveryID:  company.DiscoveryID,
			WebsiteURL:   company.WebsiteURL,
			ChunkIndex:   0,
			ChunkContent: "",
			Success:      false,
			Error:        scrapeErrSummary,
			RetryCount:   retryCount,
			ProcessingMS: processingMS,
		}}
	}

	fallbackPages := visitedURLs
	if len(fallbackPages) > 5 {
		fallbackPages = fallbackPages[:5]
	}

	rows := make([]model.CompanyResult, 0, len(chunks))
	for _, c := range chunks {
		pages := c.PagesIncluded
		if len(pages) == 0 {
			pages = fallbackPages
		}
		rows = append(rows, model.CompanyResult{
			CNPJBasico:   company.CNPJBasico,
			DiscoveryID:  company.DiscoveryID,
			WebsiteURL:   company.WebsiteURL,
			ChunkIndex:   c.Index,
			TotalChunks:  c.TotalChunks,
			ChunkContent: c.Content,
			TokenCount:   c.Tokens,
			PageSource:   strings.Join(pages, ","),
			Success:      true,
			RetryCount:   retryCount,
			ProcessingMS: processingMS,
		})
	}
	return rows
}

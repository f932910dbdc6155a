package batch

import (
	"encoding/json"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/profilecore/internal/errtax"
	"github.com/sells-group/profilecore/internal/model"
)

// CompanyWorkflowInput is the Temporal workflow payload for one company's
// full scrape->chunk->persist run (§4.11 per-company processing).
type CompanyWorkflowInput struct {
	Company     model.PendingCompany
	MaxSubpages int
	MaxRetries  int
}

// CompanyWorkflowOutput is the Temporal workflow result.
type CompanyWorkflowOutput struct {
	Success      bool
	RetryCount   int
	ProcessingMS float64
	Rows         []model.CompanyResult

	// Funnel mirrors the scrape's own counters so the orchestrator can roll
	// them into the status payload's stage funnel and subpage panel without
	// the workflow needing to expose the whole ScrapeResult.
	Funnel CompanyFunnel
}

// CompanyFunnel is the subset of model.ScrapeResult the orchestrator's
// status payload needs.
type CompanyFunnel struct {
	ProbeOK           bool
	MainPageOK        bool
	ProbeMS           int64
	MainMS            int64
	SubpagesMS        int64
	LinksInHTML       int
	LinksAfterFilter  int
	LinksSelected     int
	SubpagesAttempted int
	SubpagesOK        int
}

// companyActivityOptions bounds each activity call; retrying across
// transient scrape failures is driven explicitly by the workflow loop
// below rather than Temporal's built-in RetryPolicy, since the retry
// decision depends on the business-level failure reason the scraper
// reports, not on the activity call erroring out.
func companyActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 90 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
}

// CompanyWorkflow drives one company through scrape -> chunk -> result
// construction. Persistence is left to the caller's buffered flush (§4.11
// "under a buffer lock, append the CompanyResult"), not run as an activity
// here, so a flush batches many companies' workflow results together.
func CompanyWorkflow(ctx workflow.Context, in CompanyWorkflowInput) (CompanyWorkflowOutput, error) {
	start := workflow.Now(ctx)
	ctx = workflow.WithActivityOptions(ctx, companyActivityOptions())

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	var scrapeResult model.ScrapeResult
	var scrapeErr error
	retryCount := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		scrapeErr = workflow.ExecuteActivity(ctx, "ScrapeActivity", ScrapeActivityInput{
			CNPJBasico: in.Company.CNPJBasico,
			WebsiteURL: in.Company.WebsiteURL,
			RequestID:  in.Company.CNPJBasico,
		}).Get(ctx, &scrapeResult)
		retryCount = attempt

		if scrapeErr == nil && scrapeResult.MainPageOK {
			break
		}

		reason := scrapeResult.MainPageFailReason
		if scrapeErr != nil {
			reason = "proxy:timeout"
		}
		if !isRetryableFailReason(reason) || attempt == maxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt+1)) * time.Second
		_ = workflow.Sleep(ctx, backoff)
	}

	processingMS := float64(workflow.Now(ctx).Sub(start).Milliseconds())

	if scrapeErr != nil {
		summary := buildErrorSummary(errtax.ScrapeError, scrapeErr.Error())
		return CompanyWorkflowOutput{
			Success:      false,
			RetryCount:   retryCount,
			ProcessingMS: processingMS,
			Rows:         BuildCompanyResults(in.Company, summary, nil, nil, retryCount, processingMS),
			Funnel:       CompanyFunnel{},
		}, nil
	}

	funnel := CompanyFunnel{
		ProbeOK:           true,
		MainPageOK:        scrapeResult.MainPageOK,
		ProbeMS:           scrapeResult.ProbeMS,
		MainMS:            scrapeResult.MainMS,
		SubpagesMS:        scrapeResult.SubpagesMS,
		LinksInHTML:       scrapeResult.LinksInHTML,
		LinksAfterFilter:  scrapeResult.LinksAfterFilter,
		LinksSelected:     scrapeResult.LinksSelected,
		SubpagesAttempted: scrapeResult.SubpagesAttempted,
		SubpagesOK:        scrapeResult.SubpagesOK,
	}

	content := scrapeResult.AggregatedContent()
	if !scrapeResult.MainPageOK || len(content) < 100 {
		summary := buildErrorSummary("", scrapeResult.MainPageFailReason)
		return CompanyWorkflowOutput{
			Success:      false,
			RetryCount:   retryCount,
			ProcessingMS: processingMS,
			Rows:         BuildCompanyResults(in.Company, summary, nil, nil, retryCount, processingMS),
			Funnel:       funnel,
		}, nil
	}

	var chunks []model.Chunk
	if err := workflow.ExecuteActivity(ctx, "ChunkActivity", ChunkActivityInput{
		CNPJBasico: in.Company.CNPJBasico,
		Content:    content,
	}).Get(ctx, &chunks); err != nil || len(chunks) == 0 {
		summary := buildErrorSummary("", "chunker returned zero chunks")
		return CompanyWorkflowOutput{
			Success:      false,
			RetryCount:   retryCount,
			ProcessingMS: processingMS,
			Rows:         BuildCompanyResults(in.Company, summary, nil, nil, retryCount, processingMS),
			Funnel:       funnel,
		}, nil
	}

	visited := make([]string, 0, len(scrapeResult.Pages))
	for _, p := range scrapeResult.Pages {
		if p.Success {
			visited = append(visited, p.URL)
		}
	}

	return CompanyWorkflowOutput{
		Success:      true,
		RetryCount:   retryCount,
		ProcessingMS: processingMS,
		Rows:         BuildCompanyResults(in.Company, "", chunks, visited, retryCount, processingMS),
		Funnel:       funnel,
	}, nil
}

// isRetryableFailReason implements spec §4.11 point 4's transient/persistent
// split over the scraper's bucketed failure-reason strings.
func isRetryableFailReason(reason string) bool {
	switch {
	case reason == "":
		return false
	case strings.Contains(reason, "timeout"):
		return true
	case strings.Contains(reason, "429"):
		return true
	case strings.Contains(reason, "connection"):
		return true
	case strings.Contains(reason, "5xx"), strings.Contains(reason, "server_error"):
		return true
	case strings.Contains(reason, "empty_content"):
		return true
	case strings.Contains(reason, "unavailable"):
		return true
	case strings.Contains(reason, "dns"), strings.Contains(reason, "404"),
		strings.Contains(reason, "soft_404"), strings.Contains(reason, "ssl"),
		strings.Contains(reason, "cloudflare"), strings.Contains(reason, "captcha"),
		strings.Contains(reason, "blocked"):
		return false
	default:
		return false
	}
}

// errorSummary is the structured JSON the orchestrator writes into the
// error column of a failed CompanyResult marker row (spec §7 "structured
// error summary").
type errorSummary struct {
	Tag     string `json:"tag,omitempty"`
	Message string `json:"message"`
}

func buildErrorSummary(tag errtax.Tag, message string) string {
	b, err := json.Marshal(errorSummary{Tag: string(tag), Message: message})
	if err != nil {
		return message
	}
	return string(b)
}

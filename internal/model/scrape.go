package model

// ScrapedPage is a single fetched page within a ScrapeResult. It is owned by
// its ScrapeResult and is short-lived — discarded once the aggregate content
// has been handed to the chunker.
type ScrapedPage struct {
	URL            string   `json:"url"`
	Content        string   `json:"content"`
	Links          []string `json:"links"`
	DocumentLinks  []string `json:"document_links"`
	StatusCode     int      `json:"status_code"`
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
}

// SubpageErrorCounts buckets subpage failures by error-taxonomy category.
type SubpageErrorCounts map[string]int

// ScrapeResult is the aggregate output of the Scraper Pipeline for one
// company: the main page (always first, if fetched) followed by subpages in
// insertion order, plus the funnel counters and timings the Batch
// Orchestrator rolls up into its status payload.
type ScrapeResult struct {
	Pages []ScrapedPage `json:"pages"`

	LinksInHTML       int `json:"links_in_html"`
	LinksAfterFilter  int `json:"links_after_filter"`
	LinksSelected     int `json:"links_selected"`
	SubpagesAttempted int `json:"subpages_attempted"`
	SubpagesOK        int `json:"subpages_ok"`

	ProbeMS    int64 `json:"probe_ms"`
	MainMS     int64 `json:"main_ms"`
	SubpagesMS int64 `json:"subpages_ms"`
	TotalMS    int64 `json:"total_ms"`

	MainPageOK         bool               `json:"main_page_ok"`
	MainPageFailReason string             `json:"main_page_fail_reason,omitempty"`
	SubpageErrors      SubpageErrorCounts `json:"subpage_errors,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// MainPage returns the main page, or nil if the scrape never reached one.
func (r *ScrapeResult) MainPage() *ScrapedPage {
	if len(r.Pages) == 0 {
		return nil
	}
	return &r.Pages[0]
}

// Subpages returns every page after the main page.
func (r *ScrapeResult) Subpages() []ScrapedPage {
	if len(r.Pages) <= 1 {
		return nil
	}
	return r.Pages[1:]
}

// AggregatedContent concatenates every successful page's content using the
// literal page-marker format the chunker relies on:
//
//	--- PAGE START: <url> ---
//	<body text>
//	--- PAGE END ---
func (r *ScrapeResult) AggregatedContent() string {
	var b []byte
	for i, p := range r.Pages {
		if !p.Success || p.Content == "" {
			continue
		}
		if i > 0 && len(b) > 0 {
			b = append(b, '\n', '\n')
		}
		b = append(b, "--- PAGE START: "...)
		b = append(b, p.URL...)
		b = append(b, " ---\n"...)
		b = append(b, p.Content...)
		b = append(b, "\n--- PAGE END ---"...)
	}
	return string(b)
}

// Package scraper implements spec §4.5's Scraper Pipeline: the staged
// probe -> main page -> link-prioritization -> bounded-parallel subpages
// flow over a rotating proxy pool.
package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profilecore/internal/errtax"
	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/prober"
	"github.com/sells-group/profilecore/internal/proxypool"
	"github.com/sells-group/profilecore/internal/webclient"
)

// Config bounds the pipeline's behavior.
type Config struct {
	MaxRetries            int // main-page retry count (total attempts = 1+MaxRetries)
	PerDomainConcurrency  int // subpage fan-out limit, default 5
	RequestTimeout        time.Duration
}

func (c Config) perDomainConcurrency() int {
	if c.PerDomainConcurrency <= 0 {
		return 5
	}
	return c.PerDomainConcurrency
}

// Pipeline wires the Prober, webclient.Client and proxypool.Pool together
// to implement scrape_all_subpages.
type Pipeline struct {
	prober  *prober.Prober
	http    *webclient.Client
	proxies *proxypool.Pool
	cfg     Config
	log     *zap.Logger
}

// New constructs a Pipeline.
func New(p *prober.Prober, httpClient *webclient.Client, proxies *proxypool.Pool, cfg Config) *Pipeline {
	return &Pipeline{prober: p, http: httpClient, proxies: proxies, cfg: cfg, log: zap.L().With(zap.String("component", "scraper"))}
}

// ScrapeAllSubpages implements the public operation of spec §4.5: at most
// one main-page fetch and at most maxSubpages subpage fetches.
func (p *Pipeline) ScrapeAllSubpages(ctx context.Context, rawURL string, maxSubpages int, requestID string) (*model.ScrapeResult, error) {
	start := time.Now()
	result := &model.ScrapeResult{RequestID: requestID, SubpageErrors: model.SubpageErrorCounts{}}

	// Stage 1: Probe.
	probeStart := time.Now()
	canonicalURL, _, err := p.prober.Probe(ctx, rawURL)
	result.ProbeMS = time.Since(probeStart).Milliseconds()
	if err != nil {
		result.MainPageFailReason = "probe_" + probeFailBucket(err)
		result.TotalMS = time.Since(start).Milliseconds()
		return result, nil
	}

	// Stage 2: Main page.
	mainStart := time.Now()
	mainPage, mainErr := p.fetchMainPage(ctx, canonicalURL)
	result.MainMS = time.Since(mainStart).Milliseconds()
	result.Pages = append(result.Pages, *mainPage)
	result.MainPageOK = mainPage.Success
	if !mainPage.Success {
		result.MainPageFailReason = mainFailReason(mainPage, mainErr)
		result.TotalMS = time.Since(start).Milliseconds()
		return result, nil
	}

	// Stage 3: Link selection.
	result.LinksInHTML = len(mainPage.Links)
	filtered := FilterNonAssetLinks(mainPage.Links)
	result.LinksAfterFilter = len(filtered)
	selected := SelectLinks(filtered, maxSubpages)
	result.LinksSelected = len(selected)

	// Stage 4: Parallel subpages.
	subStart := time.Now()
	subpages := p.fetchSubpages(ctx, selected)
	result.SubpagesMS = time.Since(subStart).Milliseconds()
	result.SubpagesAttempted = len(selected)
	for _, sp := range subpages {
		result.Pages = append(result.Pages, sp)
		if sp.Success {
			result.SubpagesOK++
		} else if sp.Error != "" {
			result.SubpageErrors[categoryOf(sp.Error)]++
		}
	}

	result.TotalMS = time.Since(start).Milliseconds()
	return result, nil
}

func (p *Pipeline) fetchMainPage(ctx context.Context, canonicalURL string) (*model.ScrapedPage, error) {
	attempts := 1 + p.cfg.MaxRetries
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		_, sess := p.proxies.GetNext()
		start := time.Now()
		fr, err := p.http.Get(ctx, sess.Client, canonicalURL, false)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			lastErr = err
			p.proxies.RecordFailure(sess, tagOf(err))
			if webclient.IsSiteRejection(err.Error()) {
				break
			}
			continue
		}

		p.proxies.RecordSuccess(sess, latency)

		label, thin, empty := webclient.ClassifyContent(fr.Text)
		switch {
		case label == "Cloudflare":
			return &model.ScrapedPage{URL: canonicalURL, StatusCode: fr.StatusCode, Success: false, Error: "Cloudflare"}, nil
		case label == "Soft 404":
			return &model.ScrapedPage{URL: canonicalURL, StatusCode: fr.StatusCode, Success: false, Error: "Soft 404"}, nil
		case empty:
			return &model.ScrapedPage{URL: canonicalURL, StatusCode: fr.StatusCode, Success: false, Error: "empty_content"}, nil
		case thin:
			return &model.ScrapedPage{URL: canonicalURL, StatusCode: fr.StatusCode, Success: false, Error: "thin_content"}, nil
		}

		return &model.ScrapedPage{
			URL:           canonicalURL,
			Content:       fr.Text,
			Links:         fr.Links,
			DocumentLinks: fr.DocumentLinks,
			StatusCode:    fr.StatusCode,
			Success:       true,
		}, nil
	}

	errMsg := "scrape_error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return &model.ScrapedPage{URL: canonicalURL, Success: false, Error: errMsg}, lastErr
}

func (p *Pipeline) fetchSubpages(ctx context.Context, urls []string) []model.ScrapedPage {
	pages := make([]model.ScrapedPage, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.perDomainConcurrency())

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			pages[i] = p.fetchSubpage(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

func (p *Pipeline) fetchSubpage(ctx context.Context, rawURL string) model.ScrapedPage {
	normalized := normalizeSubpageURL(rawURL)
	_, sess := p.proxies.GetNext()

	start := time.Now()
	fr, err := p.http.Get(ctx, sess.Client, normalized, true)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		p.proxies.RecordFailure(sess, tagOf(err))
		return model.ScrapedPage{URL: normalized, Success: false, Error: tagOf(err)}
	}
	p.proxies.RecordSuccess(sess, latency)

	label, thin, empty := webclient.ClassifyContent(fr.Text)
	switch {
	case label == "Cloudflare":
		return model.ScrapedPage{URL: normalized, StatusCode: fr.StatusCode, Success: false, Error: "scrape_blocked_cloudflare"}
	case label == "Soft 404":
		return model.ScrapedPage{URL: normalized, StatusCode: fr.StatusCode, Success: false, Error: "scrape_soft_404"}
	case empty:
		return model.ScrapedPage{URL: normalized, StatusCode: fr.StatusCode, Success: false, Error: "scrape_empty_content"}
	case thin:
		return model.ScrapedPage{URL: normalized, StatusCode: fr.StatusCode, Success: false, Error: "scrape_thin_content"}
	}

	return model.ScrapedPage{
		URL: normalized, Content: fr.Text, Links: fr.Links, DocumentLinks: fr.DocumentLinks,
		StatusCode: fr.StatusCode, Success: true,
	}
}

// normalizeSubpageURL implements spec §4.5 stage 4 point 1: strip
// whitespace/trailing comma, drop leftover markdown-title garbage
// (%20%22, %22), drop fragments.
func normalizeSubpageURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	s = strings.TrimSuffix(s, ",")
	s = strings.ReplaceAll(s, "%20%22", "")
	s = strings.ReplaceAll(s, "%22", "")
	if u, err := url.Parse(s); err == nil {
		u.Fragment = ""
		return u.String()
	}
	return s
}

// FilterNonAssetLinks drops links pointing at non-HTML asset extensions,
// the first half of spec §4.5 stage 3's link selection.
func FilterNonAssetLinks(links []string) []string {
	var out []string
	for _, l := range links {
		if !isAssetURL(l) {
			out = append(out, l)
		}
	}
	return out
}

func tagOf(err error) string {
	if te, ok := err.(*errtax.TaggedError); ok {
		return string(te.Tag)
	}
	return "scrape_error"
}

func categoryOf(errLabel string) string {
	return errLabel
}

func probeFailBucket(err error) string {
	if nr, ok := err.(*prober.URLNotReachable); ok {
		return strings.ToLower(string(nr.ErrorType))
	}
	return "other"
}

func mainFailReason(page *model.ScrapedPage, err error) string {
	switch page.Error {
	case "Cloudflare":
		return "scrape_blocked_cloudflare"
	case "Soft 404":
		return "scrape_soft_404"
	case "thin_content":
		return "scrape_thin_content"
	case "empty_content":
		return "scrape_empty_content"
	case "":
		return "scrape_null_response"
	}
	if err != nil {
		return "proxy_" + tagOf(err)
	}
	return "scrape_error"
}

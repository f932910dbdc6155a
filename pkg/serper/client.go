// Package serper provides a client for the Serper-compatible search API
// used to discover company websites (spec.md §6: "the search-API client").
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://google.serper.dev"
	defaultRPS       = 190
	defaultBurst     = 200
	maxRetries       = 3
	maxRetryAfter    = 60 * time.Second
	defaultPageCount = 10
)

// SearchRequest is the Serper search payload.
type SearchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
}

// OrganicResult is one entry in a search response's organic array.
type OrganicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the Serper search response, reduced to the fields this
// module consumes.
type SearchResponse struct {
	Organic []OrganicResult `json:"organic"`
}

// Client performs Serper search queries with rate limiting and retry.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *client) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithRateLimit overrides the default 190rps/200-burst limiter.
func WithRateLimit(rps rate.Limit, burst int) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rps, burst) }
}

type client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Serper search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(defaultRPS, defaultBurst),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search queries the Serper search endpoint, making up to 3 attempts on
// 429/5xx with exponential backoff (1s, 2s, 4s), honoring a Retry-After
// header when present (capped at 60s).
func (c *client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Num <= 0 {
		req.Num = defaultPageCount
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "serper: marshal search request")
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "serper: rate limiter wait")
		}

		resp, err := c.doSearch(ctx, body)
		if err != nil {
			lastErr = err
			zap.L().Warn("serper: search request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.sleepBackoff(ctx, attempt, nil)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
			lastErr = eris.Errorf("serper: http %d", resp.StatusCode)
			zap.L().Warn("serper: retryable status, backing off",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.sleepBackoff(ctx, attempt, retryAfter)
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return nil, eris.Errorf("serper: http %d: %s", resp.StatusCode, string(data))
		}

		var out SearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "serper: decode search response")
		}
		return &out, nil
	}

	return nil, eris.Wrap(lastErr, "serper: all retries exhausted")
}

func (c *client) doSearch(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "serper: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.apiKey)

	return c.http.Do(httpReq)
}

// sleepBackoff implements the 1s/2s/4s exponential backoff, preferring a
// parsed Retry-After duration (capped at 60s) when the server supplied one.
func (c *client) sleepBackoff(ctx context.Context, attempt int, retryAfter *time.Duration) {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if retryAfter != nil {
		d = *retryAfter
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	jitter := time.Duration(rand.Int64N(int64(d)/4 + 1))
	d += jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// parseRetryAfter parses a Retry-After header value, either delta-seconds
// or an HTTP-date, returning nil if absent or unparseable.
func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

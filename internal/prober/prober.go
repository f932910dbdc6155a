// Package prober implements spec §4.4's URL Prober: given a possibly
// schemeless or wrong-www URL, test the http/https x www/non-www cross
// product and return the best-responding canonical form.
package prober

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrorType classifies a failed probe variation, per spec §4.4.
type ErrorType string

const (
	ErrDNS             ErrorType = "DNS_ERROR"
	ErrConnectionRefused ErrorType = "CONNECTION_REFUSED"
	ErrConnectionTimeout ErrorType = "CONNECTION_TIMEOUT"
	ErrSSL             ErrorType = "SSL_ERROR"
	ErrTooManyRedirects ErrorType = "TOO_MANY_REDIRECTS"
	ErrHTTP            ErrorType = "HTTP_ERROR"
	ErrServerError     ErrorType = "SERVER_ERROR"
	ErrBlocked         ErrorType = "BLOCKED"
	ErrUnknown         ErrorType = "UNKNOWN"
)

// errorPriority defines the tie-break order for picking the single "best"
// error type to surface when every variation fails (spec §4.4 step 5).
var errorPriority = []ErrorType{
	ErrDNS, ErrSSL, ErrConnectionRefused, ErrConnectionTimeout,
	ErrTooManyRedirects, ErrBlocked, ErrServerError, ErrHTTP, ErrUnknown,
}

// retryableErrors is the set of error types that justify retrying the
// whole probe (spec §4.4 "Retry").
var retryableErrors = map[ErrorType]bool{
	ErrConnectionTimeout: true, ErrConnectionRefused: true, ErrBlocked: true, ErrUnknown: true,
}

// URLNotReachable is returned when every variation fails.
type URLNotReachable struct {
	Input     string
	ErrorType ErrorType
}

func (e *URLNotReachable) Error() string {
	return "prober: url not reachable: " + e.Input + " (" + string(e.ErrorType) + ")"
}

// variationResult is the outcome of testing one candidate URL.
type variationResult struct {
	url        string
	elapsedMS  int64
	status     int
	err        error
	errorType  ErrorType
}

// ProbeFunc performs one GET/HEAD test against a candidate URL and is
// injected so callers can supply a proxy-bound *http.Client (see
// DefaultProbeFunc for the default implementation).
type ProbeFunc func(ctx context.Context, candidate string, timeout time.Duration) (statusCode int, elapsedMS int64, err error)

// Prober caches raw-input -> canonical-url results and dispatches the
// variation matrix.
type Prober struct {
	mu    sync.RWMutex
	cache map[string]cacheEntry

	probe      ProbeFunc
	timeout    time.Duration
	maxRetries int
	log        *zap.Logger
}

type cacheEntry struct {
	bestURL     string
	responseMS  int64
}

// New constructs a Prober. probe is the per-variation test function;
// timeout bounds each variation attempt; maxRetries bounds whole-probe
// retries for retryable error types.
func New(probe ProbeFunc, timeout time.Duration, maxRetries int) *Prober {
	return &Prober{
		cache:      make(map[string]cacheEntry),
		probe:      probe,
		timeout:    timeout,
		maxRetries: maxRetries,
		log:        zap.L().With(zap.String("component", "prober")),
	}
}

// Probe returns the best-responding canonical form of rawInput.
func (p *Prober) Probe(ctx context.Context, rawInput string) (string, int64, error) {
	p.mu.RLock()
	if e, ok := p.cache[rawInput]; ok {
		p.mu.RUnlock()
		return e.bestURL, e.responseMS, nil
	}
	p.mu.RUnlock()

	var lastErrType ErrorType
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		bestURL, responseMS, err := p.probeOnce(ctx, rawInput)
		if err == nil {
			p.mu.Lock()
			p.cache[rawInput] = cacheEntry{bestURL: bestURL, responseMS: responseMS}
			p.mu.Unlock()
			return bestURL, responseMS, nil
		}

		var notReachable *URLNotReachable
		if unwrapAs(err, &notReachable) {
			lastErrType = notReachable.ErrorType
			lastErr = err
			if !retryableErrors[lastErrType] {
				return "", 0, err
			}
			continue
		}
		return "", 0, err
	}

	return "", 0, eris.Wrapf(lastErr, "prober: exhausted retries, last=%s", lastErrType)
}

func unwrapAs(err error, target **URLNotReachable) bool {
	if nr, ok := err.(*URLNotReachable); ok {
		*target = nr
		return true
	}
	return false
}

func (p *Prober) probeOnce(ctx context.Context, rawInput string) (string, int64, error) {
	exact := normalizeCandidate(rawInput)
	if status, ms, err := p.probe(ctx, exact, p.timeout); err == nil && status < 400 {
		return exact, ms, nil
	}

	variations := generateVariations(rawInput)

	results := make([]variationResult, len(variations))
	var wg sync.WaitGroup
	for i, v := range variations {
		wg.Add(1)
		go func(i int, candidate string) {
			defer wg.Done()
			status, ms, err := p.probe(ctx, candidate, p.timeout)
			results[i] = variationResult{url: candidate, elapsedMS: ms, status: status}
			if err != nil {
				results[i].err = err
				results[i].errorType = classifyError(err)
			}
		}(i, v)
	}
	wg.Wait()

	var successes, serverErrors, blocked []variationResult
	for _, r := range results {
		switch {
		case r.err == nil && r.status < 400:
			successes = append(successes, r)
		case r.status >= 500:
			serverErrors = append(serverErrors, r)
		case r.status == 403:
			blocked = append(blocked, r)
		}
	}

	if len(successes) > 0 {
		sort.SliceStable(successes, func(i, j int) bool {
			iRedir := successes[i].status >= 300
			jRedir := successes[j].status >= 300
			if iRedir != jRedir {
				return !iRedir
			}
			return successes[i].elapsedMS < successes[j].elapsedMS
		})
		best := successes[0]
		return best.url, best.elapsedMS, nil
	}

	errType := pickPriorityError(results)
	return "", 0, &URLNotReachable{Input: rawInput, ErrorType: errType}
}

func pickPriorityError(results []variationResult) ErrorType {
	seen := map[ErrorType]bool{}
	for _, r := range results {
		if r.err != nil {
			seen[r.errorType] = true
		}
	}
	for _, et := range errorPriority {
		if seen[et] {
			return et
		}
	}
	return ErrUnknown
}

func classifyError(err error) ErrorType {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "nodename nor servname") || strings.Contains(msg, "dns"):
		return ErrDNS
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "tls") || strings.Contains(msg, "x509"):
		return ErrSSL
	case strings.Contains(msg, "connection refused"):
		return ErrConnectionRefused
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrConnectionTimeout
	case strings.Contains(msg, "stopped after") || strings.Contains(msg, "too many redirects"):
		return ErrTooManyRedirects
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "blocked") || strings.Contains(msg, "captcha"):
		return ErrBlocked
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return ErrServerError
	case strings.Contains(msg, "http"):
		return ErrHTTP
	default:
		return ErrUnknown
	}
}

// generateVariations returns the deduplicated {http,https} x {www.,''}
// cross product, https-first, non-www-on-ties, skipping www.www.
// patterns, per spec §4.4.
func generateVariations(rawInput string) []string {
	input := strings.TrimSpace(rawInput)
	hasScheme := strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")

	var hostPath string
	if hasScheme {
		if u, err := url.Parse(input); err == nil {
			hostPath = u.Host + u.Path
		} else {
			hostPath = input
		}
	} else {
		hostPath = input
	}

	bareHost := strings.TrimPrefix(hostPath, "www.")

	seen := map[string]bool{}
	var out []string
	schemes := []string{"https", "http"}
	prefixes := []string{"", "www."}

	for _, scheme := range schemes {
		for _, prefix := range prefixes {
			if prefix == "www." && strings.HasPrefix(bareHost, "www.") {
				continue // would produce www.www.
			}
			candidate := scheme + "://" + prefix + bareHost
			if !seen[candidate] {
				seen[candidate] = true
				out = append(out, candidate)
			}
		}
	}
	return out
}

func normalizeCandidate(rawInput string) string {
	input := strings.TrimSpace(rawInput)
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return "https://" + input
	}
	return input
}

// DefaultProbeFunc builds a ProbeFunc bound to httpClient, implementing
// HEAD-then-GET-on-403 per spec §4.4.
func DefaultProbeFunc(httpClient *http.Client) ProbeFunc {
	return func(ctx context.Context, candidate string, timeout time.Duration) (int, int64, error) {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		status, err := doOnce(reqCtx, httpClient, http.MethodHead, candidate)
		if err == nil && status == 403 {
			status, err = doOnce(reqCtx, httpClient, http.MethodGet, candidate)
		}
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			return 0, elapsed, err
		}
		return status, elapsed, nil
	}
}

func doOnce(ctx context.Context, client *http.Client, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode, nil
}

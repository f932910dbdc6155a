// Package errtax implements the closed error taxonomy of spec §7: a fixed
// set of tags per layer (probe/proxy/scrape/llm), a TaggedError that
// carries one, and the diagnosis-bucket rollup the Batch Orchestrator's
// status payload reports.
package errtax

// Tag is one leaf of the closed error-taxonomy set.
type Tag string

const (
	// Probe layer.
	ProbeDNS         Tag = "probe:dns"
	ProbeTimeout     Tag = "probe:timeout"
	ProbeRefused     Tag = "probe:refused"
	ProbeSSL         Tag = "probe:ssl"
	ProbeBlocked     Tag = "probe:blocked"
	ProbeServerError Tag = "probe:server_error"
	ProbeRedirectLoop Tag = "probe:redirect_loop"
	ProbeOther       Tag = "probe:other"

	// Proxy layer.
	ProxyTimeout       Tag = "proxy:timeout"
	ProxyConnection    Tag = "proxy:connection"
	ProxyHTTP403       Tag = "proxy:http_403"
	ProxyHTTP5xx       Tag = "proxy:http_5xx"
	ProxySSL           Tag = "proxy:ssl"
	ProxyEmptyResponse Tag = "proxy:empty_response"
	ProxyOther         Tag = "proxy:other"

	// Scrape layer.
	ScrapeBlockedCloudflare Tag = "scrape:blocked_cloudflare"
	ScrapeBlockedWAF        Tag = "scrape:blocked_waf"
	ScrapeSoft404           Tag = "scrape:soft_404"
	ScrapeCloudflare        Tag = "scrape:cloudflare"
	ScrapeTimeout           Tag = "scrape:timeout"
	ScrapeThinContent       Tag = "scrape:thin_content"
	ScrapeEmptyContent      Tag = "scrape:empty_content"
	ScrapeError             Tag = "scrape:error"
	ScrapeNullResponse      Tag = "scrape:null_response"

	// LLM layer.
	LLMRateLimit   Tag = "rate_limit"
	LLMTimeout     Tag = "timeout"
	LLMBadRequest  Tag = "bad_request"
	LLMDegeneration Tag = "degeneration"
	LLMError       Tag = "error"
	LLMParseError  Tag = "parse_error"
)

// TaggedError wraps an underlying error with a closed-taxonomy Tag so
// callers can switch on classification instead of string matching or
// try/except-style control flow (spec §9's "map to a tagged sum type").
type TaggedError struct {
	Tag Tag
	Err error
}

func (e *TaggedError) Error() string {
	if e.Err == nil {
		return string(e.Tag)
	}
	return string(e.Tag) + ": " + e.Err.Error()
}

func (e *TaggedError) Unwrap() error { return e.Err }

// New wraps err with tag.
func New(tag Tag, err error) *TaggedError {
	return &TaggedError{Tag: tag, Err: err}
}

// DiagnosisBucket is the four-plus-other top-level rollup category the
// status payload groups per-instance error counts into (spec §7).
type DiagnosisBucket string

const (
	BucketSiteOffline  DiagnosisBucket = "site_offline"
	BucketProxyInfra   DiagnosisBucket = "proxy_infra"
	BucketBlocked      DiagnosisBucket = "blocked"
	BucketContentIssue DiagnosisBucket = "content_issue"
	BucketOther        DiagnosisBucket = "other"
)

var bucketOf = map[Tag]DiagnosisBucket{
	ProbeDNS:          BucketSiteOffline,
	ProbeRefused:      BucketSiteOffline,
	ProbeServerError:  BucketSiteOffline,
	ProbeRedirectLoop: BucketSiteOffline,
	ProbeSSL:          BucketSiteOffline,
	ProxyHTTP5xx:      BucketSiteOffline,

	ProbeTimeout:       BucketProxyInfra,
	ProbeOther:         BucketProxyInfra,
	ProxyTimeout:       BucketProxyInfra,
	ProxyConnection:    BucketProxyInfra,
	ProxySSL:           BucketProxyInfra,
	ProxyEmptyResponse: BucketProxyInfra,
	ProxyOther:         BucketProxyInfra,
	ScrapeTimeout:      BucketProxyInfra,

	ProbeBlocked:            BucketBlocked,
	ProxyHTTP403:            BucketBlocked,
	ScrapeBlockedWAF:        BucketBlocked,
	ScrapeBlockedCloudflare: BucketBlocked,
	ScrapeCloudflare:        BucketBlocked,

	ScrapeSoft404:      BucketContentIssue,
	ScrapeThinContent:  BucketContentIssue,
	ScrapeEmptyContent: BucketContentIssue,
}

// Bucket classifies a Tag into its diagnosis-aggregation bucket. Unknown
// or unmapped tags fall into "other".
func Bucket(t Tag) DiagnosisBucket {
	if b, ok := bucketOf[t]; ok {
		return b
	}
	return BucketOther
}

// IsRetryableLLM reports whether an LLM-layer tag is retryable under the
// Call Manager's retry policy (spec §4.8): bad_request never retries,
// everything else may.
func IsRetryableLLM(t Tag) bool {
	return t != LLMBadRequest
}

// IsPersistentScrape reports whether a per-company error tag is the
// "persistent" kind the Batch Orchestrator must not retry (spec §4.11
// point 4): DNS, 404-family, SSL, Cloudflare, CAPTCHA/WAF block.
func IsPersistentScrape(t Tag) bool {
	switch t {
	case ProbeDNS, ProbeSSL, ProxySSL, ScrapeBlockedCloudflare, ScrapeBlockedWAF, ScrapeCloudflare, ScrapeSoft404:
		return true
	}
	return false
}

// IsTransientScrape reports whether a per-company error tag is the
// "transient" kind that should be retried with exponential backoff
// (timeout, 429/5xx, connection reset, empty content, temporarily
// unavailable).
func IsTransientScrape(t Tag) bool {
	switch t {
	case ProbeTimeout, ProxyTimeout, ProxyConnection, ProxyHTTP5xx, ProxyEmptyResponse, ScrapeTimeout, ScrapeEmptyContent, ScrapeThinContent, ProbeOther, ProxyOther:
		return true
	}
	return false
}

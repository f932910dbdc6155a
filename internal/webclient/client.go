// Package webclient implements spec §4.3's HTTP Client: fingerprint
// rotation, proxy dispatch, charset-aware text extraction, link
// classification and the closed error-tag mapping.
package webclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/profilecore/internal/errtax"
)

const (
	defaultRequestTimeout = 12 * time.Second
	maxMetaCharsetScan    = 2048
)

var documentExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
}

var excludedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true, ".ico": true,
	".mp4": true, ".mp3": true, ".avi": true, ".mov": true, ".wav": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".zip": true, ".rar": true, ".tar": true, ".gz": true, ".7z": true,
	".js": true, ".css": true, ".json": true, ".xml": true,
	".xls": true, ".xlsx": true, ".csv": true,
}

// Client performs HTTP GETs through a caller-supplied proxy transport,
// rotating fingerprints per request, and maps failures into the closed
// errtax taxonomy.
type Client struct {
	// connSem bounds in-flight HTTP calls made through this Client. New
	// creates a separate semaphore for every Client, so two Clients do not
	// share a limit; nil means unlimited.
	connSem chan struct{}
	timeout time.Duration
}

// New constructs a Client. maxInFlight sizes this Client's connection
// semaphore; pass 0 for unlimited.
func New(maxInFlight int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	var sem chan struct{}
	if maxInFlight > 0 {
		sem = make(chan struct{}, maxInFlight)
	}
	return &Client{connSem: sem, timeout: timeout}
}

// FetchResult is the outcome of Get.
type FetchResult struct {
	Text          string
	Links         []string
	DocumentLinks []string
	StatusCode    int
}

// Get performs a single GET to rawURL through httpClient (typically a
// proxy-session-bound client from internal/proxypool), with referer set
// per spec's first-request-vs-subpage rule. It returns the parsed result
// or a *errtax.TaggedError on failure.
func (c *Client) Get(ctx context.Context, httpClient *http.Client, rawURL string, isSubpageOfOrigin bool) (*FetchResult, error) {
	if c.connSem != nil {
		select {
		case c.connSem <- struct{}{}:
			defer func() { <-c.connSem }()
		case <-ctx.Done():
			return nil, errtax.New(errtax.ProxyTimeout, eris.New("webclient: connection pool slot timeout"))
		case <-time.After(c.timeout):
			return nil, errtax.New(errtax.ProxyTimeout, eris.New("webclient: pool_timeout"))
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errtax.New(errtax.ProxyOther, eris.Wrap(err, "webclient: build request"))
	}
	c.applyHeaders(req, rawURL, isSubpageOfOrigin)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errtax.New(errtax.ProxyOther, eris.Wrap(err, "webclient: read body"))
	}

	if resp.StatusCode != http.StatusOK {
		tag := errtax.ProxyOther
		switch {
		case resp.StatusCode == 403:
			tag = errtax.ProxyHTTP403
		case resp.StatusCode >= 500:
			tag = errtax.ProxyHTTP5xx
		}
		return nil, errtax.New(tag, eris.Errorf("webclient: http_%d", resp.StatusCode))
	}

	if len(body) == 0 {
		return nil, errtax.New(errtax.ProxyEmptyResponse, eris.New("webclient: empty response"))
	}

	if isPDF(resp.Header.Get("Content-Type"), body) {
		return &FetchResult{Text: "", StatusCode: resp.StatusCode}, nil
	}

	text, decodeErr := decodeBody(body, resp.Header.Get("Content-Type"))
	if decodeErr != nil {
		return nil, errtax.New(errtax.ProxyOther, eris.Wrap(decodeErr, "webclient: decode body"))
	}

	base, _ := url.Parse(rawURL)
	plainText := stripHTML(text)
	links, docs := extractLinks(text, base)

	return &FetchResult{
		Text:          plainText,
		Links:         links,
		DocumentLinks: docs,
		StatusCode:    resp.StatusCode,
	}, nil
}

func (c *Client) applyHeaders(req *http.Request, rawURL string, isSubpage bool) {
	fp := randomFingerprint()
	req.Header.Set("User-Agent", fp.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9")
	req.Header.Set("Accept-Language", randomAcceptLanguage())
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")

	if !isSubpage {
		req.Header.Set("Referer", "https://www.google.com/")
		return
	}
	if u, err := url.Parse(rawURL); err == nil {
		req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errtax.New(errtax.ProxyTimeout, eris.Wrap(err, "webclient: timeout"))
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset"):
		return errtax.New(errtax.ProxyConnection, eris.Wrap(err, "webclient: connection error"))
	case strings.Contains(msg, "tls") || strings.Contains(msg, "x509") || strings.Contains(msg, "certificate"):
		return errtax.New(errtax.ProxySSL, eris.Wrap(err, "webclient: ssl error"))
	default:
		return errtax.New(errtax.ProxyOther, eris.Wrap(err, "webclient: request failed"))
	}
}

func isPDF(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([a-z0-9_\-]+)`)

var charsetAliases = map[string]string{
	"iso-8859-1":   "latin-1",
	"windows-1252": "cp1252",
}

func decodeBody(body []byte, contentType string) (string, error) {
	name := charsetFromContentType(contentType)
	if name == "" {
		scanLen := maxMetaCharsetScan
		if scanLen > len(body) {
			scanLen = len(body)
		}
		if m := metaCharsetRe.FindSubmatch(body[:scanLen]); m != nil {
			name = strings.ToLower(string(m[1]))
		}
	}
	if name == "" {
		name = "utf-8"
	}
	if alias, ok := charsetAliases[name]; ok {
		name = alias
	}

	enc := lookupEncoding(name)
	if enc == nil {
		// Fall back to latin-1, which never fails to decode.
		enc = charmap.ISO8859_1
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		decoded, err = charmap.ISO8859_1.NewDecoder().Bytes(body)
		if err != nil {
			return "", err
		}
	}
	return string(decoded), nil
}

func lookupEncoding(name string) encoding.Encoding {
	switch name {
	case "latin-1":
		return charmap.ISO8859_1
	case "cp1252":
		return charmap.Windows1252
	case "utf-8", "utf8":
		return encoding.Nop
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc
	}
	return nil
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|nav|footer|svg)[^>]*>.*?</(script|style|nav|footer|svg)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
	wsRe          = regexp.MustCompile(`[ \t]+`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

func stripHTML(htmlText string) string {
	cleaned := scriptStyleRe.ReplaceAllString(htmlText, "")
	cleaned = strings.ReplaceAll(cleaned, "<br>", "\n")
	cleaned = strings.ReplaceAll(cleaned, "<br/>", "\n")
	cleaned = strings.ReplaceAll(cleaned, "</p>", "\n\n")
	cleaned = strings.ReplaceAll(cleaned, "</div>", "\n")
	cleaned = tagRe.ReplaceAllString(cleaned, " ")
	cleaned = decodeEntities(cleaned)
	cleaned = wsRe.ReplaceAllString(cleaned, " ")
	cleaned = blankLinesRe.ReplaceAllString(cleaned, "\n\n")

	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n\n")
}

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
	"&quot;", `"`, "&#39;", "'", "&apos;", "'",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

var hrefRe = regexp.MustCompile(`(?i)href\s*=\s*["']([^"'#][^"']*)["']`)

func charsetFromContentType(ct string) string {
	idx := strings.Index(strings.ToLower(ct), "charset=")
	if idx < 0 {
		return ""
	}
	v := ct[idx+len("charset="):]
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.Trim(v, `"' `))
}

func extractLinks(htmlText string, base *url.URL) (links []string, docs []string) {
	seen := map[string]bool{}
	for _, m := range hrefRe.FindAllStringSubmatch(htmlText, -1) {
		raw := strings.TrimSpace(m[1])
		if raw == "" || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") {
			continue
		}

		resolved := raw
		if base != nil {
			if u, err := base.Parse(raw); err == nil {
				u.Fragment = ""
				resolved = u.String()
			}
		}
		if resolved == "" || seen[resolved] {
			continue
		}
		seen[resolved] = true

		ext := extOf(resolved)
		switch {
		case documentExtensions[ext]:
			docs = append(docs, resolved)
		case excludedExtensions[ext]:
			// dropped: asset/media/script/style/data file
		case base != nil && sameRegistrableDomain(base, resolved):
			links = append(links, resolved)
		}
	}
	return links, docs
}

func extOf(u string) string {
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndexByte(u, '.'); i >= 0 {
		return strings.ToLower(u[i:])
	}
	return ""
}

func sameRegistrableDomain(base *url.URL, target string) bool {
	tu, err := url.Parse(target)
	if err != nil {
		return false
	}
	return registrableDomain(base.Hostname()) == registrableDomain(tu.Hostname())
}

// registrableDomain is a best-effort "last two labels" approximation
// (no public-suffix list dependency is wired, since no example repo
// carries one for this concern).
func registrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

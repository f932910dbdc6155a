package webclient

import "math/rand"

// Fingerprint describes one browser profile: a name and the User-Agent
// header sent with it. Only request headers vary between profiles; no
// per-profile *http.Client or transport exists, so the TLS handshake is
// the same Go default for every profile.
type Fingerprint struct {
	Name      string
	UserAgent string
}

// fingerprints is the ~5-entry pool of modern browser profiles spec §4.3
// requires. Selected uniformly at random per request.
var fingerprints = []Fingerprint{
	{Name: "chrome-linux", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
	{Name: "chrome-windows", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
	{Name: "firefox-windows", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0"},
	{Name: "safari-macos", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"},
	{Name: "edge-windows", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0"},
}

// acceptLanguages is the small Portuguese/English tuple pool spec §4.3
// requires for the Accept-Language header.
var acceptLanguages = []string{
	"pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	"pt-PT,pt;q=0.9,en;q=0.8",
	"en-US,en;q=0.9,pt-BR;q=0.7",
}

func randomFingerprint() Fingerprint {
	return fingerprints[rand.Intn(len(fingerprints))] //nolint:gosec
}

func randomAcceptLanguage() string {
	return acceptLanguages[rand.Intn(len(acceptLanguages))] //nolint:gosec
}

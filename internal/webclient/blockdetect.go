package webclient

import "strings"

// cloudflareSignatures are the exact phrases spec §4.5 names for
// Cloudflare/anti-bot challenge detection.
var cloudflareSignatures = []string{
	"just a moment...",
	"cf-browser-verification",
	"challenge-running",
	"cf_chl_opt",
	"checking your browser",
	"ray id:",
}

// soft404Phrases are substrings that, combined with a non-trivial body
// length, indicate a 200-status "not found" page.
var soft404Phrases = []string{
	"page not found", "página não encontrada", "not found", "404 error",
	"conteúdo não encontrado", "a página que você procura",
}

// siteRejectionSignatures are the substrings (case-insensitive) in an
// error message or body that signal the remote site actively rejected
// the request -- retries would only worsen reputation (spec §4.5 stage 2).
var siteRejectionSignatures = []string{
	"403", "429", "cloudflare", "captcha", "waf", "forbidden", "blocked",
}

// ClassifyContent implements spec §4.5's post-fetch content classification
// for both main-page and subpage fetches. It returns the empty string for
// content that passes classification (i.e. is usable).
func ClassifyContent(text string) (errorLabel string, thin bool, empty bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, sig := range cloudflareSignatures {
		if strings.Contains(lower, sig) {
			return "Cloudflare", false, false
		}
	}

	if len(trimmed) == 0 {
		return "", false, true
	}

	if len(trimmed) >= 100 {
		for _, p := range soft404Phrases {
			if strings.Contains(lower, p) {
				return "Soft 404", false, false
			}
		}
		return "", false, false
	}

	return "", true, false
}

// IsSiteRejection reports whether msg indicates the site actively rejected
// the request (403/429/WAF/Cloudflare/captcha/forbidden/blocked), in which
// case the main-page fetch must stop retrying immediately.
func IsSiteRejection(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range siteRejectionSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

package webclient

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML_RemovesScriptAndStyle(t *testing.T) {
	in := `<html><body><script>evil()</script><style>.a{}</style><p>Sobre a Empresa Acme</p></body></html>`
	out := stripHTML(in)
	assert.NotContains(t, out, "evil()")
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "<style>")
	assert.Contains(t, out, "Sobre a Empresa Acme")
}

func TestExtractLinks_ClassifiesDocumentsAndInternal(t *testing.T) {
	base, _ := url.Parse("https://example.com/")
	html := `<a href="/contato">C</a><a href="/produtos">P</a><a href="/brochure.pdf">B</a><a href="https://other.com/x">X</a><a href="#frag">F</a>`

	links, docs := extractLinks(html, base)
	assert.ElementsMatch(t, []string{"https://example.com/contato", "https://example.com/produtos"}, links)
	assert.ElementsMatch(t, []string{"https://example.com/brochure.pdf"}, docs)
}

func TestClassifyContent_Cloudflare(t *testing.T) {
	label, thin, empty := ClassifyContent(`Just a moment... Ray ID: abc123`)
	assert.Equal(t, "Cloudflare", label)
	assert.False(t, thin)
	assert.False(t, empty)
}

func TestClassifyContent_Empty(t *testing.T) {
	label, thin, empty := ClassifyContent("   ")
	assert.Empty(t, label)
	assert.False(t, thin)
	assert.True(t, empty)
}

func TestClassifyContent_Thin(t *testing.T) {
	label, thin, empty := ClassifyContent("short text")
	assert.Empty(t, label)
	assert.True(t, thin)
	assert.False(t, empty)
}

func TestIsSiteRejection(t *testing.T) {
	assert.True(t, IsSiteRejection("HTTP 403 Forbidden"))
	assert.True(t, IsSiteRejection("cloudflare challenge"))
	assert.False(t, IsSiteRejection("connection reset"))
}

func TestDecodeBody_CharsetFallback(t *testing.T) {
	text, err := decodeBody([]byte("plain ascii text"), "text/html; charset=utf-8")
	assert.NoError(t, err)
	assert.Equal(t, "plain ascii text", text)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profilecore/internal/batch"
	"github.com/sells-group/profilecore/internal/chunker"
	"github.com/sells-group/profilecore/internal/prober"
	"github.com/sells-group/profilecore/internal/proxypool"
	"github.com/sells-group/profilecore/internal/scraper"
	"github.com/sells-group/profilecore/internal/webclient"
)

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newTestServer(t *testing.T, srvURL string) *Server {
	t.Helper()
	pr := prober.New(func(_ context.Context, candidate string, _ time.Duration) (int, int64, error) {
		if candidate == srvURL {
			return 200, 1, nil
		}
		return 0, 0, assertErr("unreachable")
	}, time.Second, 0)

	httpClient := webclient.New(0, 5*time.Second)
	pool := proxypool.GatewayPool("")
	pipeline := scraper.New(pr, httpClient, pool, scraper.Config{MaxRetries: 1, PerDomainConcurrency: 5})

	activities := &batch.Activities{
		Scraper:     pipeline,
		ChunkerCfg:  chunker.Config{},
		MaxSubpages: 5,
	}

	return New(activities, pr, pipeline, nil, nil, 0)
}

func TestHealth_NoStoreReturnsOK(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, 0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestScrape_MissingFieldsReturns400(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, 0)
	body, _ := json.Marshal(map[string]string{"cnpj_basico": "12345678"})
	req := httptest.NewRequest(http.MethodPost, "/scrape", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScrape_ValidRequestAccepted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Sobre a empresa Acme, fabricante de produtos industriais de alta qualidade</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestServer(t, srv.URL)

	payload := map[string]string{"cnpj_basico": "12345678", "website_url": srv.URL}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/scrape", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	var resp scrapeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "accepted", resp.Status)

	time.Sleep(20 * time.Millisecond)
}

func TestDiagnose_MissingURLReturns400(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, 0)
	req := httptest.NewRequest(http.MethodGet, "/scrape/diagnose", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDiagnose_HealthySiteReportsAllPhases(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Sobre a empresa Acme, fabricante de produtos industriais de alta qualidade para o mercado nacional</p><a href="/contato">Contato</a></body></html>`))
	})
	mux.HandleFunc("/contato", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Entre em contato conosco pelo telefone institucional da empresa Acme Ltda</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestServer(t, srv.URL)

	req := httptest.NewRequest(http.MethodGet, "/scrape/diagnose?url="+srv.URL, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp diagnoseResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	names := make([]string, len(resp.Phases))
	for i, p := range resp.Phases {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"probe", "main_page", "filter", "prioritize_top_10", "subpage_tests"}, names)
	assert.NotEmpty(t, resp.Conclusion)
}

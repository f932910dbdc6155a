package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/prober"
	"github.com/sells-group/profilecore/internal/scraper"
)

const diagnoseMaxSubpages = 5

// DiagnosePhase is one phase of a diagnostic run: probe, main page, filter,
// prioritize top-10, or the 5 subpage tests.
type DiagnosePhase struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	OK         bool   `json:"ok"`
	Detail     string `json:"detail,omitempty"`
}

// DiagnoseResponse is spec §6's GET /scrape/diagnose payload.
type DiagnoseResponse struct {
	URL        string          `json:"url"`
	Phases     []DiagnosePhase `json:"phases"`
	Conclusion string          `json:"conclusion"`
}

type diagnosePhase = DiagnosePhase
type diagnoseResponse = DiagnoseResponse

// handleDiagnose implements spec §6's GET /scrape/diagnose over HTTP.
func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url query param is required"})
		return
	}
	resp := Diagnose(r.Context(), s.Prober, s.Pipeline, rawURL)
	writeJSON(w, http.StatusOK, resp)
}

// Diagnose runs spec §4.5 end to end for one URL, capped at 5 subpage
// tests, and reports phase-by-phase timings plus a one-line conclusion
// even when an early phase fails (partial diagnosis). Shared by the HTTP
// façade and the `diagnose` CLI command.
func Diagnose(ctx context.Context, p *prober.Prober, pipeline *scraper.Pipeline, rawURL string) DiagnoseResponse {
	resp := DiagnoseResponse{URL: rawURL}

	probeStart := time.Now()
	canonicalURL, _, probeErr := p.Probe(ctx, rawURL)
	resp.Phases = append(resp.Phases, DiagnosePhase{
		Name: "probe", DurationMS: time.Since(probeStart).Milliseconds(), OK: probeErr == nil,
		Detail: errString(probeErr),
	})
	if probeErr != nil {
		resp.Conclusion = "unreachable at probe stage: " + probeErr.Error()
		return resp
	}

	result, err := pipeline.ScrapeAllSubpages(ctx, canonicalURL, diagnoseMaxSubpages, "diagnose")
	if err != nil {
		zap.L().Error("diagnose: scrape pipeline error", zap.String("url", rawURL), zap.Error(err))
		resp.Conclusion = "scrape pipeline error: " + err.Error()
		return resp
	}

	resp.Phases = append(resp.Phases, DiagnosePhase{
		Name: "main_page", DurationMS: result.MainMS, OK: result.MainPageOK,
		Detail: result.MainPageFailReason,
	})
	if !result.MainPageOK {
		resp.Conclusion = "main page unreachable: " + result.MainPageFailReason
		return resp
	}

	filterStart := time.Now()
	filtered := scraper.FilterNonAssetLinks(result.MainPage().Links)
	resp.Phases = append(resp.Phases, DiagnosePhase{
		Name: "filter", DurationMS: time.Since(filterStart).Milliseconds(), OK: true,
		Detail: fmt.Sprintf("%d/%d links kept", len(filtered), result.LinksInHTML),
	})

	prioritizeStart := time.Now()
	top := scraper.SelectLinks(filtered, 10)
	resp.Phases = append(resp.Phases, DiagnosePhase{
		Name: "prioritize_top_10", DurationMS: time.Since(prioritizeStart).Milliseconds(), OK: true,
		Detail: fmt.Sprintf("%d selected", len(top)),
	})

	resp.Phases = append(resp.Phases, DiagnosePhase{
		Name: "subpage_tests", DurationMS: result.SubpagesMS, OK: result.SubpagesOK > 0 || result.SubpagesAttempted == 0,
		Detail: fmt.Sprintf("%d/%d ok", result.SubpagesOK, result.SubpagesAttempted),
	})

	resp.Conclusion = conclusionOf(result)
	return resp
}

func conclusionOf(r *model.ScrapeResult) string {
	switch {
	case r.SubpagesAttempted == 0:
		return "main page reachable, no subpages selected"
	case r.SubpagesOK == r.SubpagesAttempted:
		return fmt.Sprintf("healthy: main page and all %d subpages reachable", r.SubpagesAttempted)
	case r.SubpagesOK > 0:
		return fmt.Sprintf("degraded: %d/%d subpages reachable", r.SubpagesOK, r.SubpagesAttempted)
	default:
		return "main page reachable, all subpages failed"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

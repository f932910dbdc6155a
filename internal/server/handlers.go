package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/batch"
	"github.com/sells-group/profilecore/internal/model"
)

type scrapeRequest struct {
	CNPJBasico string `json:"cnpj_basico"`
	WebsiteURL string `json:"website_url"`
}

type scrapeResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CNPJBasico string `json:"cnpj_basico"`
	WebsiteURL string `json:"website_url"`
	Status     string `json:"status"`
}

// handleScrape implements spec §6's POST /scrape: accepts a company,
// returns an immediate "accepted" acknowledgement, and runs the actual
// scrape->chunk->persist flow in the background via the shared batch
// Activities (the same single-company path the batch orchestrator drives).
func (s *Server) handleScrape(sem chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if req.CNPJBasico == "" || req.WebsiteURL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cnpj_basico and website_url are required"})
			return
		}

		select {
		case sem <- struct{}{}:
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "too many concurrent requests"})
			return
		}

		company := model.PendingCompany{CNPJBasico: req.CNPJBasico, WebsiteURL: req.WebsiteURL}
		go func() {
			defer func() { <-sem }()
			defer func() {
				if rec := recover(); rec != nil {
					zap.L().Error("scrape request panicked",
						zap.String("cnpj_basico", company.CNPJBasico),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			s.runScrape(ctx, company)
		}()

		writeJSON(w, http.StatusAccepted, scrapeResponse{
			Success:    true,
			Message:    "scrape accepted",
			CNPJBasico: req.CNPJBasico,
			WebsiteURL: req.WebsiteURL,
			Status:     "accepted",
		})
	}
}

// runScrape drives one company through the scrape->chunk->persist flow and
// writes the resulting rows via the store, outside of Temporal — this is the
// façade's in-process path (run from a background goroutine), not a workflow
// execution.
func (s *Server) runScrape(ctx context.Context, company model.PendingCompany) {
	result, err := s.Activities.ScrapeActivity(ctx, batch.ScrapeActivityInput{
		CNPJBasico: company.CNPJBasico,
		WebsiteURL: company.WebsiteURL,
		RequestID:  company.CNPJBasico,
	})
	if err != nil {
		zap.L().Error("scrape request failed", zap.String("cnpj_basico", company.CNPJBasico), zap.Error(err))
		return
	}

	content := result.AggregatedContent()
	if !result.MainPageOK || len(content) < 100 {
		zap.L().Warn("scrape request produced no usable content",
			zap.String("cnpj_basico", company.CNPJBasico),
			zap.String("fail_reason", result.MainPageFailReason),
		)
		return
	}

	chunks, err := s.Activities.ChunkActivity(ctx, batch.ChunkActivityInput{
		CNPJBasico: company.CNPJBasico,
		Content:    content,
	})
	if err != nil {
		zap.L().Error("chunk step failed", zap.String("cnpj_basico", company.CNPJBasico), zap.Error(err))
		return
	}

	visited := make([]string, 0, len(result.Pages))
	for _, p := range result.Pages {
		if p.Success {
			visited = append(visited, p.URL)
		}
	}

	rows := batch.BuildCompanyResults(company, "", chunks, visited, 0, float64(result.TotalMS))

	if err := s.Activities.PersistActivity(ctx, rows); err != nil {
		zap.L().Error("persist step failed", zap.String("cnpj_basico", company.CNPJBasico), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package server carries spec §6's façade-level HTTP API: POST /scrape
// (fire-and-forget enrichment trigger) and GET /scrape/diagnose
// (phase-by-phase scrape diagnostics), routed with chi the way the rest of
// the ecosystem's HTTP surfaces are.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/profilecore/internal/batch"
	"github.com/sells-group/profilecore/internal/prober"
	"github.com/sells-group/profilecore/internal/scraper"
	"github.com/sells-group/profilecore/internal/store"
)

// Server wires the façade handlers to their collaborators.
type Server struct {
	Activities  *batch.Activities
	Prober      *prober.Prober
	Pipeline    *scraper.Pipeline
	Store       store.Store
	CORSOrigins []string

	// scrapeSemSize bounds concurrent background /scrape jobs.
	scrapeSemSize int
}

// New constructs a Server. scrapeSemSize defaults to 20 when <= 0.
func New(activities *batch.Activities, p *prober.Prober, pipeline *scraper.Pipeline, st store.Store, corsOrigins []string, scrapeSemSize int) *Server {
	if scrapeSemSize <= 0 {
		scrapeSemSize = 20
	}
	return &Server{
		Activities:    activities,
		Prober:        p,
		Pipeline:      pipeline,
		Store:         st,
		CORSOrigins:   corsOrigins,
		scrapeSemSize: scrapeSemSize,
	}
}

// Router builds the chi mux for the façade surface.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:           300,
		AllowCredentials: false,
	}))

	sem := make(chan struct{}, s.scrapeSemSize)

	r.Get("/health", s.handleHealth)
	r.Post("/scrape", s.handleScrape(sem))
	r.Get("/scrape/diagnose", s.handleDiagnose)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		if err := s.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/batch"
	"github.com/sells-group/profilecore/internal/chunker"
	"github.com/sells-group/profilecore/internal/prober"
	"github.com/sells-group/profilecore/internal/scraper"
	"github.com/sells-group/profilecore/internal/server"
	"github.com/sells-group/profilecore/internal/webclient"
)

var scrapeServePort int

// scrapeServeCmd runs the spec §6 HTTP façade (POST /scrape, GET
// /scrape/diagnose), fronting the URL Prober / Scraper Pipeline.
var scrapeServeCmd = &cobra.Command{
	Use:   "scrape-server",
	Short: "Start the scrape trigger/diagnose HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("scrape-server"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		pool := buildProxyPool()
		httpClient := webclient.New(0, time.Duration(cfg.Scraper.RequestTimeoutSecs)*time.Second)
		probeClient := &http.Client{Timeout: time.Duration(cfg.Scraper.ProbeTimeoutSecs) * time.Second}
		pr := prober.New(prober.DefaultProbeFunc(probeClient), time.Duration(cfg.Scraper.ProbeTimeoutSecs)*time.Second, cfg.Scraper.ProberMaxRetries)
		pipeline := scraper.New(pr, httpClient, pool, scraper.Config{
			MaxRetries:           cfg.Scraper.MaxRetries,
			PerDomainConcurrency: cfg.Scraper.PerDomainConcurrency,
			RequestTimeout:       time.Duration(cfg.Scraper.RequestTimeoutSecs) * time.Second,
		})

		activities := &batch.Activities{
			Scraper: pipeline,
			ChunkerCfg: chunker.Config{
				EffectiveMaxTokens: cfg.Chunker.EffectiveMaxTokens,
				GroupTargetTokens:  cfg.Chunker.GroupTargetTokens,
			},
			Store:       st,
			MaxSubpages: cfg.Batch.MaxSubpages,
		}

		srv := server.New(activities, pr, pipeline, st, cfg.Server.CORSOrigins, cfg.Server.ScrapeSemSize)
		port := resolvePort(scrapeServePort, cfg.Server.ScrapeServerPort)
		return startServer(ctx, srv.Router(), port)
	},
}

func init() {
	scrapeServeCmd.Flags().IntVar(&scrapeServePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(scrapeServeCmd)
}

// resolvePort picks the flag override when set, falling back to the
// config-file value.
func resolvePort(flagPort, configPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	return configPort
}

// startServer runs an HTTP server on port until ctx is cancelled, then
// drains in-flight requests before returning.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

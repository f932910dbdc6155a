package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/batch"
	"github.com/sells-group/profilecore/internal/chunker"
	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/prober"
	"github.com/sells-group/profilecore/internal/proxypool"
	"github.com/sells-group/profilecore/internal/scraper"
	"github.com/sells-group/profilecore/internal/webclient"
)

// batchScrapeCmd is the parent of the Batch Orchestrator's (§4.11) control
// surface: scrape starts a run, status/cancel talk to a running run's
// control listener over loopback HTTP, since the orchestrator lives inside
// the scrape process, not behind a shared service.
var batchScrapeCmd = &cobra.Command{
	Use:   "batch",
	Short: "Batch-scrape pending companies' websites",
}

var batchScrapeRunCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Start a batch scrape run over the pending-company queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("scrape"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

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

		orch := &batch.Orchestrator{
			Store:      st,
			ProxyPool:  pool,
			Activities: activities,
			Cfg:        cfg.Batch,
		}

		control := startControlServer(orch, cfg.Batch.ControlPort)
		defer control.Close()

		zap.L().Info("batch scrape starting",
			zap.Int("control_port", cfg.Batch.ControlPort),
			zap.Strings("statuses", cfg.Batch.Statuses),
		)

		err = orch.Start(ctx, model.PendingStatusFilter(cfg.Batch.Statuses))
		if err != nil {
			zap.L().Error("batch scrape run failed", zap.Error(err))
		}
		return err
	},
}

var batchScrapeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get the status of a running batch scrape",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := http.Get(controlURL(cfg.Batch.ControlPort, "/status"))
		if err != nil {
			return eris.Wrap(err, "batch status: request")
		}
		defer resp.Body.Close()
		var status batch.Status
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return eris.Wrap(err, "batch status: decode")
		}
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var batchScrapeCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running batch scrape",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := http.Post(controlURL(cfg.Batch.ControlPort, "/cancel"), "application/json", bytes.NewReader(nil))
		if err != nil {
			return eris.Wrap(err, "batch cancel: request")
		}
		defer resp.Body.Close()
		fmt.Println("cancel signal sent")
		return nil
	},
}

func init() {
	batchScrapeCmd.AddCommand(batchScrapeRunCmd, batchScrapeStatusCmd, batchScrapeCancelCmd)
	rootCmd.AddCommand(batchScrapeCmd)
}

func controlURL(port int, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

// startControlServer exposes the running Orchestrator's Status/Cancel
// methods over loopback HTTP so the status/cancel subcommands (running as
// separate process invocations) can reach it.
func startControlServer(orch *batch.Orchestrator, port int) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(orch.Status())
	})
	mux.HandleFunc("POST /cancel", func(w http.ResponseWriter, _ *http.Request) {
		orch.Cancel()
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Warn("batch control server stopped", zap.Error(err))
		}
	}()
	return srv
}

func buildProxyPool() *proxypool.Pool {
	if cfg.ProxyPool.CSVPath != "" {
		urls, err := proxypool.ParseProxyCSV(cfg.ProxyPool.CSVPath)
		if err != nil {
			zap.L().Warn("failed to parse proxy CSV, falling back to gateway pool", zap.Error(err))
		} else {
			return proxypool.StickyPool(urls)
		}
	}
	return proxypool.GatewayPool(cfg.ProxyPool.GatewayURL)
}

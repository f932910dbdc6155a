package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/profilecore/internal/prober"
	"github.com/sells-group/profilecore/internal/scraper"
	"github.com/sells-group/profilecore/internal/server"
	"github.com/sells-group/profilecore/internal/webclient"
)

var diagnoseURL string

// diagnoseCmd runs spec §4.5's scrape pipeline against a single URL and
// prints the same phase-by-phase report the GET /scrape/diagnose endpoint
// returns, without needing a running server.
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Diagnose why a website does or doesn't scrape cleanly",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if diagnoseURL == "" {
			return eris.New("diagnose: --url is required")
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

		resp := server.Diagnose(cmd.Context(), pr, pipeline, diagnoseURL)
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return eris.Wrap(err, "diagnose: marshal report")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagnoseURL, "url", "", "website URL to diagnose")
	rootCmd.AddCommand(diagnoseCmd)
}

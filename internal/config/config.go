package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Batch        BatchConfig        `yaml:"batch" mapstructure:"batch"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	ProxyPool    ProxyPoolConfig    `yaml:"proxy_pool" mapstructure:"proxy_pool"`
	Scraper      ScraperConfig      `yaml:"scraper" mapstructure:"scraper"`
	Chunker      ChunkerConfig      `yaml:"chunker" mapstructure:"chunker"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BatchConfig configures the Batch Orchestrator (§4.11).
type BatchConfig struct {
	MaxConcurrentCompanies int      `yaml:"max_concurrent_companies" mapstructure:"max_concurrent_companies"`
	NumInstances           int      `yaml:"num_instances" mapstructure:"num_instances"`
	WorkersPerInstance     int      `yaml:"workers_per_instance" mapstructure:"workers_per_instance"`
	RampStepSize           int      `yaml:"ramp_step_size" mapstructure:"ramp_step_size"`
	RampStepPauseMS        int      `yaml:"ramp_step_pause_ms" mapstructure:"ramp_step_pause_ms"`
	FlushSize              int      `yaml:"flush_size" mapstructure:"flush_size"`
	PageSize               int      `yaml:"page_size" mapstructure:"page_size"`
	Limit                  int      `yaml:"limit" mapstructure:"limit"`
	MaxSubpages            int      `yaml:"max_subpages" mapstructure:"max_subpages"`
	MaxRetries             int      `yaml:"max_retries" mapstructure:"max_retries"`
	Statuses               []string `yaml:"statuses" mapstructure:"statuses"`

	// ControlPort backs a loopback-only HTTP listener a running `batch
	// scrape` process exposes so separate `batch status`/`batch cancel`
	// invocations can reach it.
	ControlPort int `yaml:"control_port" mapstructure:"control_port"`

	TemporalHostPort  string `yaml:"temporal_host_port" mapstructure:"temporal_host_port"`
	TemporalNamespace string `yaml:"temporal_namespace" mapstructure:"temporal_namespace"`
	TemporalTaskQueue string `yaml:"temporal_task_queue" mapstructure:"temporal_task_queue"`
}

// OrchestratorConfig configures the Global Orchestrator's named resource
// pool capacities (§4.9 / dependency-order point 9).
type OrchestratorConfig struct {
	Capacities map[string]int `yaml:"capacities" mapstructure:"capacities"`
}

// ProxyPoolConfig configures the Proxy Pool (§4.2): either a single rotating
// gateway URL, or a CSV file of host:port:user:password sticky-session proxies.
type ProxyPoolConfig struct {
	GatewayURL string `yaml:"gateway_url" mapstructure:"gateway_url"`
	CSVPath    string `yaml:"csv_path" mapstructure:"csv_path"`
}

// ScraperConfig configures the Scraper Pipeline (§4.5) and URL Prober
// (§4.4) shared by the batch orchestrator and the diagnose façade.
type ScraperConfig struct {
	MaxRetries           int `yaml:"max_retries" mapstructure:"max_retries"`
	PerDomainConcurrency int `yaml:"per_domain_concurrency" mapstructure:"per_domain_concurrency"`
	RequestTimeoutSecs   int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	ProberMaxRetries     int `yaml:"prober_max_retries" mapstructure:"prober_max_retries"`
	ProbeTimeoutSecs     int `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
}

// ChunkerConfig configures the Content Chunker (§4.6).
type ChunkerConfig struct {
	EffectiveMaxTokens int `yaml:"effective_max_tokens" mapstructure:"effective_max_tokens"`
	GroupTargetTokens  int `yaml:"group_target_tokens" mapstructure:"group_target_tokens"`
}

// ServerConfig configures the §6 HTTP façade (POST /scrape, GET /scrape/diagnose).
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	WebhookSecret    string   `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	CORSOrigins      []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ScrapeServerPort int      `yaml:"scrape_server_port" mapstructure:"scrape_server_port"`
	ScrapeSemSize    int      `yaml:"scrape_sem_size" mapstructure:"scrape_sem_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks required configuration fields based on run mode.
// Supported modes: "scrape", "scrape-server".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "scrape", "scrape-server":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.ProxyPool.GatewayURL == "" && c.ProxyPool.CSVPath == "" {
			errs = append(errs, "proxy_pool.gateway_url or proxy_pool.csv_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	// Common validations
	if c.Batch.MaxConcurrentCompanies < 1 || c.Batch.MaxConcurrentCompanies > 50 {
		errs = append(errs, "batch.max_concurrent_companies must be between 1 and 50")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.scrape_server_port", 8081)
	v.SetDefault("server.scrape_sem_size", 10)
	v.SetDefault("scraper.max_retries", 2)
	v.SetDefault("scraper.per_domain_concurrency", 5)
	v.SetDefault("scraper.request_timeout_secs", 20)
	v.SetDefault("scraper.prober_max_retries", 2)
	v.SetDefault("scraper.probe_timeout_secs", 10)
	v.SetDefault("chunker.effective_max_tokens", 6000)
	v.SetDefault("chunker.group_target_tokens", 20000)
	v.SetDefault("batch.control_port", 7234)
	v.SetDefault("batch.max_concurrent_companies", 15)
	v.SetDefault("batch.num_instances", 1)
	v.SetDefault("batch.workers_per_instance", 600)
	v.SetDefault("batch.ramp_step_size", 200)
	v.SetDefault("batch.ramp_step_pause_ms", 100)
	v.SetDefault("batch.flush_size", 500)
	v.SetDefault("batch.page_size", 5000)
	v.SetDefault("batch.max_subpages", 15)
	v.SetDefault("batch.max_retries", 2)
	v.SetDefault("batch.statuses", []string{"muito_alto", "alto", "medio"})
	v.SetDefault("batch.temporal_host_port", "localhost:7233")
	v.SetDefault("batch.temporal_namespace", "default")
	v.SetDefault("batch.temporal_task_queue", "profilecore-batch")
	v.SetDefault("orchestrator.capacities", map[string]int{
		"SCRAPER": 600, "DISCOVERY": 100, "LLM": 200, "PROXY": 600, "HTTP_CONNECTION": 600,
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Package llmprovider implements spec §4.7's LLM Provider Manager: one
// bound HTTP client, concurrency semaphore and rate limiter per configured
// provider, plus the registry and health monitor that sit above them.
package llmprovider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/ratelimit"
)

// ChatFunc is the wire-level call a provider makes; implemented
// differently per ProviderKind (pkg/llmclient for openai_compatible,
// pkg/anthropic for anthropic).
type ChatFunc func(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (content string, usageTokens int, err error)

// Provider is one configured, bound LLM backend.
type Provider struct {
	Config model.ProviderConfig

	limiter *ratelimit.Limiter
	sem     chan struct{}
	chat    ChatFunc

	mu      sync.Mutex
	healthy bool
	health  *HealthMonitor
}

// New binds a ProviderConfig to its rate limiter, concurrency semaphore
// and wire-level chat function.
func New(cfg model.ProviderConfig, chat ChatFunc) *Provider {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Provider{
		Config: cfg,
		limiter: ratelimit.New(ratelimit.Config{
			RPM:             cfg.RPM,
			TPM:             cfg.TPM,
			ContextWindow:   cfg.ContextWindow,
			MaxOutputTokens: cfg.MaxOutputTokens,
			IsSelfHosted:    cfg.IsSelfHosted,
		}),
		sem:     make(chan struct{}, maxConcurrent),
		chat:    chat,
		healthy: true,
		health:  NewHealthMonitor(50),
	}
}

// Name returns the provider's configured identifier.
func (p *Provider) Name() string { return p.Config.Name }

// Healthy reports the provider's last-known health state.
func (p *Provider) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

func (p *Provider) setHealthy(v bool) {
	p.mu.Lock()
	p.healthy = v
	p.mu.Unlock()
}

// Registry holds the configured providers, keyed by name, guarded by an
// RWMutex following the teacher's provider registry pattern.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

// Register adds a provider.
func (r *Registry) Register(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil.
func (r *Registry) Get(name string) *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// InPriorityClass returns every enabled provider registered for the given
// priority class; provider health is not checked.
func (r *Registry) InPriorityClass(pc model.PriorityClass) []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Provider
	for _, p := range r.providers {
		if p.Config.Enabled && p.Config.InPriorityClass(pc) {
			out = append(out, p)
		}
	}
	return out
}

// All returns every registered provider.
func (r *Registry) All() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// DefaultHTTPClient builds the shared *http.Client providers use when their
// ChatFunc is backed by pkg/llmclient.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

package llmcall

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/llmprovider"
	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/resourcepool"
)

const maxRetries = 3

// Manager dispatches calls to a priority class's provider pool, retrying
// across distinct providers on transient failure, and gating NORMAL
// priority work behind the shared LLM resource pool.
type Manager struct {
	registry *llmprovider.Registry
	pool     *resourcepool.Orchestrator
}

// New builds a Manager.
func New(registry *llmprovider.Registry, pool *resourcepool.Orchestrator) *Manager {
	return &Manager{registry: registry, pool: pool}
}

// Dispatch implements spec §4.8: sample a provider within the priority
// class by weight, call it, and on a non-BadRequest failure retry with a
// different provider after a 5*2^attempt second backoff, up to
// maxRetries distinct providers. NORMAL priority calls first acquire one
// unit of the shared LLM resource pool and release it on return.
func (m *Manager) Dispatch(ctx context.Context, priority model.PriorityClass, systemPrompt, userPrompt string, estimatedInputTokens int) (*llmprovider.CallResult, error) {
	if priority == model.PriorityNormal && m.pool != nil {
		if err := m.pool.Acquire(resourcepool.LLM, 1); err != nil {
			return nil, err
		}
		defer m.pool.Release(resourcepool.LLM, 1)
	}

	candidates := m.registry.InPriorityClass(priority)
	if len(candidates) == 0 {
		return nil, errors.New("llmcall: no providers registered for priority class " + string(priority))
	}
	order := orderedByWeight(candidates)
	if len(order) > maxRetries {
		order = order[:maxRetries]
	}

	var lastErr error
	for attempt, p := range order {
		if attempt > 0 {
			backoff := time.Duration(5*math.Pow(2, float64(attempt))) * time.Second
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		res, err := llmprovider.Call(ctx, p, systemPrompt, userPrompt, estimatedInputTokens)
		if err == nil {
			return res, nil
		}

		var badReq *llmprovider.BadRequestError
		if errors.As(err, &badReq) {
			return nil, err
		}

		lastErr = err
		zap.L().Warn("llmcall: provider attempt failed, trying next",
			zap.String("provider", p.Name()), zap.Int("attempt", attempt), zap.Error(err))
	}

	return nil, lastErr
}

package llmcall

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profilecore/internal/llmprovider"
	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/resourcepool"
)

func registerProvider(t *testing.T, reg *llmprovider.Registry, name string, pc model.PriorityClass, chat llmprovider.ChatFunc) {
	t.Helper()
	reg.Register(llmprovider.New(model.ProviderConfig{
		Name: name, RPM: 600, TPM: 1_000_000, ContextWindow: 32_000, MaxOutputTokens: 2048,
		MaxConcurrent: 2, Weight: 1, Enabled: true, PriorityClasses: []model.PriorityClass{pc},
	}, chat))
}

func TestDispatch_SucceedsOnFirstProvider(t *testing.T) {
	reg := llmprovider.NewRegistry()
	registerProvider(t, reg, "p1", model.PriorityHigh, func(ctx context.Context, s, u string, max int) (string, int, error) {
		return "ok", 10, nil
	})

	m := New(reg, nil)
	res, err := m.Dispatch(context.Background(), model.PriorityHigh, "sys", "user", 50)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
}

func TestDispatch_BadRequestNeverRetries(t *testing.T) {
	reg := llmprovider.NewRegistry()
	calls := 0
	registerProvider(t, reg, "p1", model.PriorityHigh, func(ctx context.Context, s, u string, max int) (string, int, error) {
		calls++
		return "", 0, nil
	})

	m := New(reg, nil)
	_, err := m.Dispatch(context.Background(), model.PriorityHigh, "sys", "user", 1_000_000)
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestDispatch_NoProvidersInClass(t *testing.T) {
	reg := llmprovider.NewRegistry()
	m := New(reg, nil)
	_, err := m.Dispatch(context.Background(), model.PriorityNormal, "sys", "user", 10)
	require.Error(t, err)
}

func TestDispatch_NormalPriorityGatedByResourcePool(t *testing.T) {
	reg := llmprovider.NewRegistry()
	registerProvider(t, reg, "p1", model.PriorityNormal, func(ctx context.Context, s, u string, max int) (string, int, error) {
		return "ok", 1, nil
	})

	pool := resourcepool.New(map[resourcepool.Name]int{resourcepool.LLM: 0})
	m := New(reg, pool)
	_, err := m.Dispatch(context.Background(), model.PriorityNormal, "sys", "user", 10)
	require.True(t, errors.Is(err, resourcepool.ErrExhausted))
}

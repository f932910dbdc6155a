package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_WithinRPM_NeverTimesOut(t *testing.T) {
	l := New(Config{RPM: 600, TPM: 1_000_000, ContextWindow: 32000, MaxOutputTokens: 2000})

	ctx := context.Background()
	res, err := l.Acquire(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, res)
}

func TestAcquire_TPMTimeout_RestoresRPM(t *testing.T) {
	l := New(Config{RPM: 6000, TPM: 60, SafetyMargin: 1, ContextWindow: 32000, MaxOutputTokens: 2000})

	ctx := context.Background()

	before := l.rpm.tokens

	res, err := l.Acquire(ctx, 1_000_000, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ResultTPMLimit, res)

	assert.InDelta(t, before, l.rpm.tokens, 0.01, "RPM token must be restored after a TPM timeout")
}

func TestSafeInputTokens_SelfHostedAppliesSlackFactor(t *testing.T) {
	hosted := New(Config{ContextWindow: 10000, MaxOutputTokens: 2000})
	selfHosted := New(Config{ContextWindow: 10000, MaxOutputTokens: 2000, IsSelfHosted: true})

	assert.Equal(t, 5500, hosted.SafeInputTokens())
	assert.Equal(t, int(float64(5500)*0.8), selfHosted.SafeInputTokens())
}

func TestAcquire_CancelledContext(t *testing.T) {
	l := New(Config{RPM: 1, TPM: 1, SafetyMargin: 1, ContextWindow: 1000, MaxOutputTokens: 100})
	// Drain the RPM bucket capacity floor (max(1000, ...)) is high, so
	// exhaust artificially by setting tokens directly.
	l.rpm.tokens = 0
	l.rpm.refillRate = 0 // never refills -> wait is infinite

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Acquire(ctx, 1, time.Second)
	require.Error(t, err)
}

// Package ratelimit implements the dual token-bucket (RPM + TPM) rate
// limiter described in spec §4.1: independent request-per-minute and
// token-per-minute buckets per provider, with RPM restored on a TPM
// timeout and a context-window safety guard.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Result is the outcome of an acquire call.
type Result string

const (
	ResultOK       Result = "ok"
	ResultRPMLimit Result = "rpm_limit"
	ResultTPMLimit Result = "tpm_limit"
)

// Config holds the per-provider parameters needed to size the two buckets.
type Config struct {
	RPM             float64
	TPM             float64
	SafetyMargin    float64 // default 0.8
	ContextWindow   int
	MaxOutputTokens int
	// IsSelfHosted applies the extra 0.8 factor to safe_input_tokens.
	IsSelfHosted bool
}

func (c Config) safetyMargin() float64 {
	if c.SafetyMargin <= 0 {
		return 0.8
	}
	return c.SafetyMargin
}

// bucket is a single token bucket refilled by elapsed monotonic time.
type bucket struct {
	capacity   float64
	refillRate float64 // tokens/sec
	tokens     float64
	lastRefill time.Time
}

func newBucket(capacity, refillRate float64) *bucket {
	return &bucket{capacity: capacity, refillRate: refillRate, tokens: capacity, lastRefill: time.Now()}
}

// refillLocked advances the bucket to now. Caller holds the provider lock.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Limiter holds the dual buckets for a single provider and serialises
// refill+deduct arithmetic behind one mutex, per spec §5's "one exclusive
// lock per (provider, bucket)" -- implemented here as one lock guarding
// both buckets for that provider, since both must be refilled/rolled back
// atomically with respect to each other (the RPM-restore-on-TPM-timeout
// rule in step 3 needs both buckets consistent under one critical section).
type Limiter struct {
	mu  sync.Mutex
	rpm *bucket
	tpm *bucket
	cfg Config
}

// New constructs a Limiter for one provider per spec §4.1's capacity/refill
// formulas.
func New(cfg Config) *Limiter {
	sm := cfg.safetyMargin()
	maxBurstRPM := max64(1000, cfg.RPM*sm/5)
	refillRPM := cfg.RPM * sm / 60
	maxBurstTPM := max64(500_000, cfg.TPM*sm/20)
	refillTPM := cfg.TPM * sm / 60

	return &Limiter{
		rpm: newBucket(maxBurstRPM, refillRPM),
		tpm: newBucket(maxBurstTPM, refillTPM),
		cfg: cfg,
	}
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// SafeInputTokens returns context_window - max_output_tokens - 2500,
// additionally scaled by 0.8 for self-hosted providers.
func (l *Limiter) SafeInputTokens() int {
	safe := l.cfg.ContextWindow - l.cfg.MaxOutputTokens - 2500
	if l.cfg.IsSelfHosted {
		safe = int(float64(safe) * 0.8)
	}
	if safe < 0 {
		return 0
	}
	return safe
}

// Acquire deducts 1 RPM token and estimatedTokens TPM tokens, waiting (up
// to timeout) for refill as needed. On a TPM timeout the RPM deduction is
// restored before returning.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int, timeout time.Duration) (Result, error) {
	deadline := time.Now().Add(timeout)

	if ok, err := l.acquireBucketRPM(ctx, deadline); err != nil {
		return "", err
	} else if !ok {
		return ResultRPMLimit, nil
	}

	ok, err := l.acquireBucketTPM(ctx, float64(estimatedTokens), deadline)
	if err != nil {
		l.restoreRPM()
		return "", err
	}
	if !ok {
		l.restoreRPM()
		return ResultTPMLimit, nil
	}

	return ResultOK, nil
}

func (l *Limiter) restoreRPM() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rpm.tokens += 1
	if l.rpm.tokens > l.rpm.capacity {
		l.rpm.tokens = l.rpm.capacity
	}
}

// acquireBucketRPM waits for 1 RPM token, bounded by deadline.
func (l *Limiter) acquireBucketRPM(ctx context.Context, deadline time.Time) (bool, error) {
	return l.acquireBucket(ctx, l.rpm, 1, deadline)
}

func (l *Limiter) acquireBucketTPM(ctx context.Context, n float64, deadline time.Time) (bool, error) {
	return l.acquireBucket(ctx, l.tpm, n, deadline)
}

// acquireBucket polls the given bucket, sleeping just long enough for the
// next refill tick, until n tokens are available or the deadline passes.
func (l *Limiter) acquireBucket(ctx context.Context, b *bucket, n float64, deadline time.Time) (bool, error) {
	for {
		wait, ok := l.tryDeduct(b, n)
		if ok {
			return true, nil
		}

		now := time.Now()
		if !now.Add(wait).Before(deadline) && now.Before(deadline) {
			// capped wait still lands past the deadline; sleep to the
			// deadline once more, then give up.
			wait = deadline.Sub(now)
		}
		if now.After(deadline) {
			return false, nil
		}

		timer := time.NewTimer(minDur(wait, deadline.Sub(now)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, eris.Wrap(ctx.Err(), "ratelimit: acquire cancelled")
		case <-timer.C:
		}
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// tryDeduct attempts to take n tokens from b under the provider lock. If
// insufficient, it returns the estimated wait until enough tokens refill.
func (l *Limiter) tryDeduct(b *bucket, n float64) (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b.refillLocked(time.Now())
	if b.tokens >= n {
		b.tokens -= n
		return 0, true
	}

	deficit := n - b.tokens
	if b.refillRate <= 0 {
		return time.Hour, false
	}
	secs := deficit / b.refillRate
	return time.Duration(secs * float64(time.Second)), false
}

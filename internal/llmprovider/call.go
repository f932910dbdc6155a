package llmprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/ratelimit"
)

// rateLimitFailFast bounds how long Call waits on the rate limiter before
// giving up and trying the next provider; spec treats a slow limiter as a
// signal to move on rather than queue indefinitely.
const rateLimitFailFast = 5 * time.Second

// tokenTier caps max_tokens by input size: very large inputs leave less
// headroom for the provider's own context budget.
type tokenTier struct {
	inputCeiling int
	maxOutput    int
}

var adaptiveTiers = []tokenTier{
	{inputCeiling: 8_000, maxOutput: 4096},
	{inputCeiling: 32_000, maxOutput: 2048},
	{inputCeiling: 128_000, maxOutput: 1024},
}

// BadRequestError marks a call as non-retryable: the request itself is
// invalid (oversized input, rejected parameters after fallback) rather
// than a transient provider failure.
type BadRequestError struct{ msg string }

func (e *BadRequestError) Error() string { return e.msg }

// CallResult is one successful completion.
type CallResult struct {
	Content     string
	UsageTokens int
	Provider    string
}

// Call implements spec §4.7's single-provider call primitive: token
// estimate rejection, rate-limit acquire, concurrency gating, adaptive
// max_tokens, a parameter-rejection fallback retry, response validation
// and loop detection.
func Call(ctx context.Context, p *Provider, systemPrompt, userPrompt string, estimatedInputTokens int) (*CallResult, error) {
	safe := p.limiter.SafeInputTokens()
	if estimatedInputTokens > safe {
		return nil, &BadRequestError{msg: fmt.Sprintf("llmprovider: input %d tokens exceeds safe limit %d for %s", estimatedInputTokens, safe, p.Name())}
	}

	maxTokens := adaptiveMaxTokens(estimatedInputTokens, p.Config.MaxOutputTokens)

	acquireCtx, cancel := context.WithTimeout(ctx, rateLimitFailFast)
	defer cancel()
	res, err := p.limiter.Acquire(acquireCtx, estimatedInputTokens, rateLimitFailFast)
	if err != nil {
		return nil, eris.Wrapf(err, "llmprovider: rate limit acquire for %s", p.Name())
	}
	if res != ratelimit.ResultOK {
		return nil, eris.Errorf("llmprovider: rate limit %s for %s", res, p.Name())
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	content, usage, err := p.chat(ctx, systemPrompt, userPrompt, maxTokens)
	if err != nil && isParameterRejection(err) {
		zap.L().Warn("llmprovider: retrying without rejected parameter",
			zap.String("provider", p.Name()), zap.Error(err))
		content, usage, err = p.chat(ctx, systemPrompt, stripResponseFormatHint(userPrompt), maxTokens)
	}

	if err != nil {
		p.health.Record(false)
		return nil, eris.Wrapf(err, "llmprovider: call to %s", p.Name())
	}

	if strings.TrimSpace(content) == "" {
		p.health.Record(false)
		return nil, eris.Errorf("llmprovider: empty response from %s", p.Name())
	}

	if IsDegenerateLoop(content) {
		p.health.Record(false)
		return nil, eris.Errorf("llmprovider: degenerate loop detected from %s", p.Name())
	}

	p.health.Record(true)
	p.setHealthy(true)
	return &CallResult{Content: content, UsageTokens: usage, Provider: p.Name()}, nil
}

func adaptiveMaxTokens(inputTokens, configuredMax int) int {
	for _, tier := range adaptiveTiers {
		if inputTokens <= tier.inputCeiling {
			if configuredMax > 0 && configuredMax < tier.maxOutput {
				return configuredMax
			}
			return tier.maxOutput
		}
	}
	if configuredMax > 0 {
		return configuredMax
	}
	return 512
}

// isParameterRejection recognizes the common "unsupported parameter"
// error shape self-hosted/older providers return for fields like
// response_format or json_schema.
func isParameterRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"unsupported parameter", "unknown parameter", "invalid parameter", "response_format"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// stripResponseFormatHint returns the prompt unchanged. ChatFunc sends no
// response_format or sampling-penalty parameters, so the fallback retry in
// Call repeats the same request: no field is dropped and no JSON-only
// instruction is appended.
func stripResponseFormatHint(userPrompt string) string {
	return userPrompt
}

// Package llmcall implements spec §4.8's LLM Call Manager: weighted
// provider selection within a priority class, and the cross-provider
// retry policy that sits above llmprovider.Call.
package llmcall

import (
	"math/rand/v2"

	"github.com/sells-group/profilecore/internal/llmprovider"
)

// weightedSample picks a provider by cumulative weight: each provider
// occupies a slice of [0, totalWeight) proportional to its configured
// Weight (default 1.0 when unset), so higher-weighted providers are
// sampled more often without ever fully excluding the others.
func weightedSample(providers []*llmprovider.Provider) *llmprovider.Provider {
	if len(providers) == 0 {
		return nil
	}
	if len(providers) == 1 {
		return providers[0]
	}

	total := 0.0
	weights := make([]float64, len(providers))
	for i, p := range providers {
		w := p.Config.Weight
		if w <= 0 {
			w = 1.0
		}
		weights[i] = w
		total += w
	}

	r := rand.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if r < cumulative {
			return providers[i]
		}
	}
	return providers[len(providers)-1]
}

// orderedByWeight returns providers shuffled by weighted sampling without
// replacement, used to pick a distinct provider for each retry attempt.
func orderedByWeight(providers []*llmprovider.Provider) []*llmprovider.Provider {
	remaining := append([]*llmprovider.Provider(nil), providers...)
	out := make([]*llmprovider.Provider, 0, len(providers))
	for len(remaining) > 0 {
		pick := weightedSample(remaining)
		out = append(out, pick)
		for i, p := range remaining {
			if p == pick {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return out
}

package profile

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/profilecore/internal/llmcall"
	"github.com/sells-group/profilecore/internal/model"
)

// Pipeline runs Stage A, B and C for one company's persisted chunks.
type Pipeline struct {
	dispatcher *llmcall.Manager
	estimate   func(string) int
}

// New builds a Pipeline bound to the given dispatcher.
func New(dispatcher *llmcall.Manager, estimateTokens func(string) int) *Pipeline {
	return &Pipeline{dispatcher: dispatcher, estimate: estimateTokens}
}

// Build runs the full chunk->facts->merge->profile flow for one company.
func (p *Pipeline) Build(ctx context.Context, cnpjBasico string, chunks []model.ChunkRow) (*model.CompanyProfile, error) {
	bundles := ExtractAll(ctx, p.dispatcher, chunks, p.estimate)

	merged := MergeFactBundles(bundles)

	tokens := 0
	if p.estimate != nil {
		tokens = p.estimate(mergedFactsPreview(merged))
	}

	profile, err := BuildProfile(ctx, p.dispatcher, cnpjBasico, merged, tokens)
	if err != nil {
		zap.L().Error("profile: stage C failed", zap.String("cnpj_basico", cnpjBasico), zap.Error(err))
		return nil, err
	}
	return profile, nil
}

// mergedFactsPreview is a cheap proxy for token estimation: the merged
// facts' descriptive text dominates the Stage C prompt size.
func mergedFactsPreview(m model.MergedFacts) string {
	var preview string
	for _, d := range m.Identity.Descriptions {
		preview += d
	}
	for _, s := range m.Offerings.Services {
		preview += s
	}
	for _, p := range m.Offerings.Products {
		preview += p
	}
	return preview
}

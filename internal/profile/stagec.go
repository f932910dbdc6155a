package profile

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profilecore/internal/llmcall"
	"github.com/sells-group/profilecore/internal/model"
)

const profileBuildSystemPrompt = `You are writing the final structured profile for a Brazilian company from pre-merged, deduplicated facts. Return a single JSON object matching this shape exactly: {"identity":{"company_name","cnpj","founding_year","description"},"classification":{"industry","segments":[string]},"team":{"size_estimate","leadership":[string]},"offerings":{"products":[string],"categories":[string],"services":[string],"service_details":[string],"engagement_models":[string],"key_differentiators":[string]},"reputation":{"certifications":[string],"awards":[string],"partnerships":[string],"client_list":[string],"case_studies":[string]},"contact":{"emails":[string],"phones":[string],"website_url","locations":[string]}}. Use empty arrays or omit fields not supported by the given facts. Never invent facts not present in the input.`

// BuildProfile implements spec §4.10 Stage C: one LLM call over the
// already-merged, deduplicated facts that produces the final
// CompanyProfile shape, persisted as-is.
func BuildProfile(ctx context.Context, dispatcher *llmcall.Manager, cnpjBasico string, merged model.MergedFacts, estimatedTokens int) (*model.CompanyProfile, error) {
	factsJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, eris.Wrap(err, "profile: marshal merged facts")
	}

	res, err := dispatcher.Dispatch(ctx, model.PriorityNormal, profileBuildSystemPrompt, string(factsJSON), estimatedTokens)
	if err != nil {
		return nil, eris.Wrap(err, "profile: build profile call")
	}

	cleaned := cleanJSON(res.Content)
	var profile model.CompanyProfile
	if err := json.Unmarshal([]byte(cleaned), &profile); err != nil {
		return nil, eris.Wrap(err, "profile: parse final profile JSON")
	}

	profile.CNPJBasico = cnpjBasico
	return &profile, nil
}

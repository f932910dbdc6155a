package profile

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profilecore/internal/llmcall"
	"github.com/sells-group/profilecore/internal/model"
)

const factExtractionSystemPrompt = `You are extracting structured facts about a Brazilian company from a chunk of its website content. Return a JSON object with four arrays: identity_facts, contact_facts, offerings_facts, reputation_facts. Each item has "value", "evidence_quote" (a literal excerpt, at most 160 characters, copied verbatim from the chunk) and "confidence" (0.0-1.0). Only include facts actually present in the text. Return {} with empty arrays if nothing useful is found.`

// ExtractChunk calls the LLM once for a single chunk and parses the
// response into a FactBundle, tagging the bundle with the chunk's source
// metadata regardless of parse outcome.
func ExtractChunk(ctx context.Context, dispatcher *llmcall.Manager, chunk model.ChunkRow, estimatedTokens int) (*model.FactBundle, error) {
	userPrompt := "Chunk " + strconv.Itoa(chunk.ChunkIndex) + " of " + strconv.Itoa(chunk.TotalChunks) + ":\n\n" + chunk.Content

	res, err := dispatcher.Dispatch(ctx, model.PriorityNormal, factExtractionSystemPrompt, userPrompt, estimatedTokens)
	bundle := &model.FactBundle{
		Source: model.FactSource{
			ChunkIndex:  chunk.ChunkIndex,
			TotalChunks: chunk.TotalChunks,
			PageSource:  splitPageSource(chunk.PageSource),
		},
	}
	if err != nil {
		zap.L().Warn("profile: chunk extraction call failed", zap.Int("chunk_index", chunk.ChunkIndex), zap.Error(err))
		return bundle, err
	}

	cleaned := cleanJSON(res.Content)
	var parsed struct {
		Identity   []model.FactItem `json:"identity_facts"`
		Contact    []model.FactItem `json:"contact_facts"`
		Offerings  []model.FactItem `json:"offerings_facts"`
		Reputation []model.FactItem `json:"reputation_facts"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		zap.L().Warn("profile: chunk extraction JSON parse failed",
			zap.Int("chunk_index", chunk.ChunkIndex), zap.Error(err))
		bundle.ComputeUsefulCount()
		return bundle, nil
	}

	bundle.Identity = parsed.Identity
	bundle.Contact = parsed.Contact
	bundle.Offerings = parsed.Offerings
	bundle.Reputation = parsed.Reputation
	bundle.ComputeUsefulCount()
	return bundle, nil
}

// ExtractAll fans out ExtractChunk across every chunk concurrently. A
// chunk whose call or parse fails still contributes an (empty) bundle so
// Stage B sees a complete, indexable set.
func ExtractAll(ctx context.Context, dispatcher *llmcall.Manager, chunks []model.ChunkRow, estimateTokens func(string) int) []model.FactBundle {
	bundles := make([]model.FactBundle, len(chunks))
	g, gctx := errgroup.WithContext(ctx)

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			tokens := 0
			if estimateTokens != nil {
				tokens = estimateTokens(c.Content)
			}
			bundle, _ := ExtractChunk(gctx, dispatcher, c, tokens)
			bundles[i] = *bundle
			return nil
		})
	}
	_ = g.Wait()
	return bundles
}

func splitPageSource(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

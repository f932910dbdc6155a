package llmprovider

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profilecore/pkg/anthropic"
	"github.com/sells-group/profilecore/pkg/llmclient"
)

// NewOpenAICompatibleChat adapts pkg/llmclient to the ChatFunc shape for a
// provider speaking the OpenAI chat completions wire format.
func NewOpenAICompatibleChat(endpoint, credential, model string, httpClient *http.Client) ChatFunc {
	client := llmclient.New(endpoint, credential, httpClient)
	return func(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, int, error) {
		resp, err := client.ChatCompletion(ctx, llmclient.Request{
			Model: model,
			Messages: []llmclient.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			MaxTokens:   maxTokens,
			Temperature: 0.1,
		})
		if err != nil {
			return "", 0, err
		}
		if len(resp.Choices) == 0 {
			return "", 0, eris.New("llmprovider: openai-compatible response had no choices")
		}
		return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
	}
}

// NewAnthropicChat adapts pkg/anthropic to the ChatFunc shape.
func NewAnthropicChat(client anthropic.Client, model string, maxTokensCeiling int64) ChatFunc {
	return func(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, int, error) {
		reqMax := int64(maxTokens)
		if maxTokensCeiling > 0 && reqMax > maxTokensCeiling {
			reqMax = maxTokensCeiling
		}
		resp, err := client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     model,
			MaxTokens: reqMax,
			System:    []anthropic.SystemBlock{{Text: systemPrompt}},
			Messages:  []anthropic.Message{{Role: "user", Content: userPrompt}},
		})
		if err != nil {
			return "", 0, err
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		usage := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
		return text.String(), usage, nil
	}
}

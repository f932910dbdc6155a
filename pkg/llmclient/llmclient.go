// Package llmclient is a minimal client for OpenAI-compatible chat
// completion endpoints. No OpenAI Go SDK ships in this module's
// dependency set, so the wire format is hand-rolled over net/http, the
// same way pkg/serper hand-rolls its search API client.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a /v1/chat/completions request body.
type Request struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

// Response is the subset of the chat completion response this client cares
// about.
type Response struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// APIError carries the HTTP status and provider-reported error payload.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llmclient: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	endpoint   string
	credential string
	http       *http.Client
}

// New builds a Client bound to a single endpoint and credential.
func New(endpoint, credential string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{endpoint: endpoint, credential: credential, http: httpClient}
}

// ChatCompletion issues one /v1/chat/completions call.
func (c *Client) ChatCompletion(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "llmclient: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "llmclient: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "llmclient: do request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "llmclient: read response")
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrapf(err, "llmclient: decode response (status %d)", resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if out.Error != nil {
			apiErr.Message = out.Error.Message
			apiErr.Type = out.Error.Type
			apiErr.Code = out.Error.Code
		} else {
			apiErr.Message = string(raw)
		}
		return &out, apiErr
	}

	return &out, nil
}

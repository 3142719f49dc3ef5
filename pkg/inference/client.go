package inference

import (
	"context"
	"fmt"
	"time"
)

const providerClient = "client"

// Client is the OpenAI-compatible chat backend.
// Works with OpenAI, vLLM, Together, Groq and Ollama's /v1 endpoint.
type Client struct {
	t *transport
}

// NewClient creates a new OpenAI-compatible client. Without WithBaseURL
// it targets the OpenAI API.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = DefaultOpenAIURL
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{t: newTransport(providerClient, cfg)}, nil
}

// Chat generates a chat completion.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	var result chatCompletionResponse
	if err := c.t.postJSON(ctx, "/chat/completions", c.buildPayload(req), &result); err != nil {
		return nil, err
	}
	if len(result.Choices) == 0 {
		return nil, WrapError(providerClient, fmt.Errorf("no choices returned: %w", ErrEmptyResponse))
	}

	choice := result.Choices[0]
	resp := &ChatResponse{
		Message:      NewAssistantMessage(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		Model:     result.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	c.t.logger.Debug("chat completed",
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

// Health lists models to verify connectivity and credentials.
func (c *Client) Health(ctx context.Context) error {
	return c.t.getJSON(ctx, "/models", nil)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.t.http.CloseIdleConnections()
	return nil
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.t.config.Model
}

// buildPayload constructs the chat completion request body.
func (c *Client) buildPayload(req *ChatRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"model":    req.model(c.t.config.Model),
		"messages": req.Messages,
		"stream":   false,
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.t.config.MaxTokens
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	temp := req.Temperature
	if temp == 0 {
		temp = c.t.config.Temperature
	}
	if temp > 0 {
		payload["temperature"] = temp
	}

	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	return payload
}

// API response types
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)

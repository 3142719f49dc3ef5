package inference

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const providerOllama = "ollama"

// Ollama talks to Ollama's native /api/chat endpoint with streaming off.
type Ollama struct {
	t *transport
}

// NewOllama creates a native Ollama backend.
func NewOllama(opts ...Option) (*Ollama, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Accept the OpenAI-style base URL too.
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")

	return &Ollama{t: newTransport(providerOllama, cfg)}, nil
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Chat sends one non-streaming chat request.
func (o *Ollama) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	payload := ollamaChatRequest{
		Model:    req.model(o.t.config.Model),
		Messages: req.Messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: firstNonZero(req.Temperature, o.t.config.Temperature),
			NumPredict:  int(firstNonZero(float64(req.MaxTokens), float64(o.t.config.MaxTokens))),
			Stop:        req.Stop,
		},
	}

	var result ollamaChatResponse
	if err := o.t.postJSON(ctx, "/api/chat", payload, &result); err != nil {
		return nil, err
	}
	if !result.Done && result.Message.Content == "" {
		return nil, WrapError(providerOllama, fmt.Errorf("incomplete response: %w", ErrEmptyResponse))
	}

	resp := &ChatResponse{
		Message:      NewAssistantMessage(result.Message.Content),
		FinishReason: result.DoneReason,
		Usage: Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
		Model:     result.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	o.t.logger.Debug("chat completed",
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

// Health checks that the server answers and the configured model is pulled.
func (o *Ollama) Health(ctx context.Context) error {
	var result struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := o.t.getJSON(ctx, "/api/tags", &result); err != nil {
		return err
	}

	want := o.t.config.Model
	for _, m := range result.Models {
		if m.Name == want || m.Model == want || strings.TrimSuffix(m.Name, ":latest") == want {
			return nil
		}
	}
	return WrapError(providerOllama, fmt.Errorf("model %q not pulled", want))
}

// Close releases idle connections.
func (o *Ollama) Close() error {
	o.t.http.CloseIdleConnections()
	return nil
}

// Model returns the default model name.
func (o *Ollama) Model() string {
	return o.t.config.Model
}

func firstNonZero(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}

// Verify Ollama implements Provider at compile time.
var _ Provider = (*Ollama)(nil)

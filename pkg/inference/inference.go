// Package inference provides chat completion backends for the coaching
// generator.
//
// Every backend implements Provider: one non-streaming Chat call per
// request. Client speaks the OpenAI-compatible API (OpenAI, vLLM, Groq, and
// Ollama's /v1 endpoint); Ollama speaks Ollama's native /api/chat. Chain
// tries several backends in order.
//
// Example usage:
//
//	client, _ := inference.NewOllama(
//	    inference.WithBaseURL("http://localhost:11434"),
//	    inference.WithModel("llama3"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        inference.NewSystemMessage("You are an English tutor."),
//	        inference.NewUserMessage("I goed to the store."),
//	    },
//	})
package inference

import "context"

// Provider is a chat-completion backend.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks that the backend is reachable and the model exists.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation to complete.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// model picks the request model, falling back to the configured default.
func (r *ChatRequest) model(fallback string) string {
	if r.Model != "" {
		return r.Model
	}
	return fallback
}

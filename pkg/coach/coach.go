// Package coach turns a transcribed utterance into a coaching note and a
// conversational reply with a single language model call.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/inference"
)

// NoSpeechMessage is returned as coaching text for empty utterances.
const NoSpeechMessage = "No speech detected. Please try again with a clearer audio input."

// ProviderSource hands out the language model, building it on first use.
// *lazy.Value[inference.Provider] satisfies it.
type ProviderSource interface {
	Get(ctx context.Context) (inference.Provider, error)
}

// Static wraps an already built provider as a ProviderSource.
type Static struct{ P inference.Provider }

// Get returns the wrapped provider.
func (s Static) Get(context.Context) (inference.Provider, error) { return s.P, nil }

// Generator builds prompts, calls the model and parses the answer.
type Generator struct {
	source      ProviderSource
	window      int
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithWindow sets how many prior turns condition the prompt.
func WithWindow(k int) Option {
	return func(g *Generator) { g.window = k }
}

// WithSampling overrides max tokens and temperature for the chat call.
func WithSampling(maxTokens int, temperature float64) Option {
	return func(g *Generator) {
		g.maxTokens = maxTokens
		g.temperature = temperature
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New creates a Generator.
func New(source ProviderSource, opts ...Option) *Generator {
	g := &Generator{
		source: source,
		window: history.DefaultWindow,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "coach")
	return g
}

// Generate returns coaching and conversational text for utterance, using
// the trailing turns of the session as context. It never fails: empty input yields
// NoSpeechMessage without calling the model, and model errors are reported
// inside the coaching text with an empty conversational reply.
func (g *Generator) Generate(ctx context.Context, utterance string, turns []history.Turn) (coaching, conversational string) {
	if strings.TrimSpace(utterance) == "" {
		return NoSpeechMessage, ""
	}

	raw, err := g.complete(ctx, utterance, turns)
	if err != nil {
		g.logger.Warn("generation failed", "error", err)
		return fmt.Sprintf("Error generating feedback: %v", err), ""
	}

	coaching, conversational = Parse(raw)
	if conversational == FallbackConversation {
		g.logger.Debug("model ignored section markers", "chars", len(raw))
	}
	return coaching, conversational
}

func (g *Generator) complete(ctx context.Context, utterance string, turns []history.Turn) (string, error) {
	provider, err := g.source.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load model: %w", err)
	}

	resp, err := provider.Chat(ctx, &inference.ChatRequest{
		Messages: []inference.Message{
			inference.NewSystemMessage(SystemPrompt),
			inference.NewUserMessage(BuildPrompt(utterance, turns, g.window)),
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

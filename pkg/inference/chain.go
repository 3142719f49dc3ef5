package inference

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-phonic/internal/backend"
)

// ChainError is returned by Chain when every provider failed.
type ChainError = backend.ChainError

// Chain sends each request to the first provider that answers, e.g. a
// local Ollama with a remote server behind it.
type Chain struct {
	chain *backend.Chain[Provider]
}

// NewChain creates a provider chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), providers...)
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{chain: backend.NewChain("inference", logger, providers)}, nil
}

// Chat tries each provider until one succeeds.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return backend.Call(ctx, c.chain, func(p Provider) (*ChatResponse, error) {
		return p.Chat(ctx, req)
	})
}

// Health succeeds if at least one provider is healthy.
func (c *Chain) Health(ctx context.Context) error { return c.chain.Health(ctx) }

// Close closes all providers.
func (c *Chain) Close() error { return c.chain.Close() }

var _ Provider = (*Chain)(nil)

package tts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/teslashibe/go-phonic/internal/backend"
)

// ChainError is returned by Chain when every provider failed.
type ChainError = backend.ChainError

// Chain implements Provider by falling back through providers in order.
// Empty text fails at once; no other provider would accept it either.
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
	c := backend.NewChain("tts", logger, providers).StopOn(func(err error) bool {
		return errors.Is(err, ErrEmptyText)
	})
	return &Chain{chain: c}, nil
}

// Synthesize returns the audio of the first provider that succeeds.
func (c *Chain) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	return backend.Call(ctx, c.chain, func(p Provider) (*AudioResult, error) {
		return p.Synthesize(ctx, req)
	})
}

// Health returns nil if at least one provider is healthy.
func (c *Chain) Health(ctx context.Context) error { return c.chain.Health(ctx) }

// Close closes all providers.
func (c *Chain) Close() error { return c.chain.Close() }

var _ Provider = (*Chain)(nil)

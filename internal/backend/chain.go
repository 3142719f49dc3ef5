package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backend is the lifecycle every chained backend shares.
type Backend interface {
	Health(ctx context.Context) error
	Close() error
}

// Chain tries backends in order until one succeeds.
type Chain[B Backend] struct {
	service  string
	backends []B
	stop     func(error) bool
	logger   *slog.Logger
}

// NewChain builds a chain for service ("tts", "inference"). The caller
// checks that backends is not empty.
func NewChain[B Backend](service string, logger *slog.Logger, backends []B) *Chain[B] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain[B]{
		service:  service,
		backends: backends,
		logger:   logger.With("component", service+".chain"),
	}
}

// StopOn marks errors that no other backend would answer differently,
// such as invalid input. Call returns them without failing over.
func (c *Chain[B]) StopOn(fn func(error) bool) *Chain[B] {
	c.stop = fn
	return c
}

// Len returns the number of backends.
func (c *Chain[B]) Len() int { return len(c.backends) }

// Call runs fn against each backend in turn and returns the first
// success. When every backend fails the error is a *ChainError.
func Call[B Backend, T any](ctx context.Context, c *Chain[B], fn func(B) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for i, b := range c.backends {
		v, err := fn(b)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback backend succeeded", "backend_index", i, "failed", len(errs))
			}
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if c.stop != nil && c.stop(err) {
			return zero, err
		}

		errs = append(errs, err)
		if i < len(c.backends)-1 {
			c.logger.Warn("backend failed, trying next", "backend_index", i, "error", err)
		}
	}
	return zero, &ChainError{Service: c.service, Errors: errs}
}

// Health succeeds when at least one backend is healthy.
func (c *Chain[B]) Health(ctx context.Context) error {
	var errs []error
	for _, b := range c.backends {
		err := b.Health(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%s chain: all %d backends unhealthy: %w", c.service, len(c.backends), errors.Join(errs...))
}

// Close closes every backend.
func (c *Chain[B]) Close() error {
	var errs []error
	for _, b := range c.backends {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

// ChainError collects the error of every backend in a failed Call.
type ChainError struct {
	Service string
	Errors  []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return e.Service + " chain: no errors recorded"
	case 1:
		return fmt.Sprintf("%s chain: %v", e.Service, e.Errors[0])
	}
	return fmt.Sprintf("%s chain: all %d backends failed, last error: %v",
		e.Service, len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every backend error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error { return e.Errors }

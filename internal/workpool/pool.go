// Package workpool runs blocking work on a bounded set of workers and lets
// the caller wait for the result.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many blocking jobs run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New creates a pool with size workers. Size below one is treated as one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// Do runs fn on a worker goroutine and waits for it. If ctx ends first,
// Do returns ctx.Err(); a job that already started keeps running in the
// background and its result is dropped.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("workpool: job panicked: %v", r)}
			}
		}()
		val, err := fn(ctx)
		done <- result{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Package lazy holds handles that are built on first use and shared
// afterwards, such as a loaded transcription model or an LLM connection.
package lazy

import (
	"context"
	"sync"
)

// Value builds a T once and caches it until Reset. Concurrent first callers
// block on the same initialization instead of each creating an instance.
// A failed initialization is not cached; the next Get tries again.
type Value[T any] struct {
	mu    sync.Mutex
	init  func(ctx context.Context) (T, error)
	close func(T) error
	val   T
	ok    bool
}

// New returns a Value that calls init on first use.
func New[T any](init func(ctx context.Context) (T, error)) *Value[T] {
	return &Value[T]{init: init}
}

// WithClose sets a function used to release the cached value on Reset.
func (v *Value[T]) WithClose(fn func(T) error) *Value[T] {
	v.close = fn
	return v
}

// Get returns the cached value, building it if needed.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ok {
		return v.val, nil
	}
	val, err := v.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v.val, v.ok = val, true
	return val, nil
}

// Loaded reports whether a value is currently cached.
func (v *Value[T]) Loaded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ok
}

// Reset drops the cached value so the next Get rebuilds it. If init is
// non-nil it replaces the builder.
func (v *Value[T]) Reset(init func(ctx context.Context) (T, error)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var err error
	if v.ok && v.close != nil {
		err = v.close(v.val)
	}
	var zero T
	v.val, v.ok = zero, false
	if init != nil {
		v.init = init
	}
	return err
}

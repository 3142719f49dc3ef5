package stt

import (
	"context"
	"sync"
)

// Mock is a Transcriber for tests.
type Mock struct {
	mu        sync.Mutex
	text      string
	err       error
	healthErr error
	calls     []string
}

// NewMock returns a mock that always transcribes to text.
func NewMock(text string) *Mock {
	return &Mock{text: text}
}

// WithError makes Transcribe fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	return m
}

// WithHealthError makes Health fail with err.
func (m *Mock) WithHealthError(err error) *Mock {
	m.mu.Lock()
	m.healthErr = err
	m.mu.Unlock()
	return m
}

// Transcribe records the path and returns the canned result.
func (m *Mock) Transcribe(ctx context.Context, path string) (*Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, path)
	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Transcript{Text: m.text, Language: "en"}, nil
}

// Health returns the configured health error.
func (m *Mock) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthErr
}

// Close does nothing.
func (m *Mock) Close() error { return nil }

// Calls returns the paths passed to Transcribe.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

var _ Transcriber = (*Mock)(nil)

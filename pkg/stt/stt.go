// Package stt provides speech-to-text backends behind one Transcriber
// interface.
//
// Transcription is stateless per call. Backends hold only a client for a
// model server (an OpenAI-compatible /audio/transcriptions endpoint or a
// whisper.cpp server), so one instance can be cached and shared.
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transcriber converts a recorded audio file to text.
type Transcriber interface {
	// Transcribe returns the text spoken in the audio file at path.
	Transcribe(ctx context.Context, path string) (*Transcript, error)

	// Health checks that the model server is reachable.
	Health(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the recognized speech, trimmed.
	Text string

	// Language is the detected or requested language code.
	Language string

	// Duration of the audio, when the backend reports it.
	Duration time.Duration

	// LatencyMs is the request time in milliseconds.
	LatencyMs int64
}

// Sentinel errors.
var (
	// ErrNoModel is returned when no model name is configured.
	ErrNoModel = errors.New("stt: model required")

	// ErrNoBaseURL is returned when no endpoint is configured.
	ErrNoBaseURL = errors.New("stt: base URL required")
)

// APIError is a non-200 response from a transcription server.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("stt [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("stt [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

package stt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-phonic/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI transcribes through an OpenAI-compatible /audio/transcriptions
// endpoint: the OpenAI API itself, or a local faster-whisper or LocalAI
// server exposing the same API.
type OpenAI struct {
	client *openai.Client
	config *Config
	http   *http.Client
}

// NewOpenAI creates an OpenAI-compatible transcriber.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.Model == "" {
		return nil, ErrNoModel
	}

	hc := httpc.ForModel(cfg.Timeout)
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = hc

	cfg.Logger = cfg.Logger.With("component", "stt.openai")
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		http:   hc,
	}, nil
}

// Transcribe uploads the file and returns its text.
func (o *OpenAI) Transcribe(ctx context.Context, path string) (*Transcript, error) {
	start := time.Now()

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.config.Model,
		FilePath: path,
		Language: o.config.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, o.wrap(err)
	}

	t := &Transcript{
		Text:      strings.TrimSpace(resp.Text),
		Language:  resp.Language,
		Duration:  time.Duration(resp.Duration * float64(time.Second)),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if t.Language == "" {
		t.Language = o.config.Language
	}

	o.config.Logger.Debug("transcribed",
		"chars", len(t.Text),
		"latency_ms", t.LatencyMs,
		"model", o.config.Model,
	)
	return t, nil
}

// Health lists models to verify connectivity and credentials.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.wrap(err)
	}
	return nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.http.CloseIdleConnections()
	return nil
}

// wrap converts go-openai errors into this package's error types.
func (o *OpenAI) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Provider: providerOpenAI}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Provider: providerOpenAI}
	}
	return WrapError(providerOpenAI, err)
}

// Verify OpenAI implements Transcriber at compile time.
var _ Transcriber = (*OpenAI)(nil)

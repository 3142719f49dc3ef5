package tts

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-phonic/internal/httpc"
)

const (
	providerCoqui   = "coqui"
	DefaultCoquiURL = "http://localhost:5002"
)

// Coqui implements Provider for a local Coqui TTS server (tts-server),
// which renders WAV from GET /api/tts. The default model is the English
// single-speaker ljspeech voice.
type Coqui struct {
	httpBackend
	baseURL string
}

// NewCoqui creates a Coqui TTS server provider. No API key is needed.
func NewCoqui(opts ...Option) (*Coqui, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = DefaultCoquiURL
	cfg.OutputFormat = EncodingWAV
	cfg.Timeout = httpc.ModelTimeout
	cfg.Apply(opts...)

	c := &Coqui{baseURL: strings.TrimSuffix(cfg.BaseURL, "/")}
	c.httpBackend = httpBackend{
		provider:   providerCoqui,
		config:     cfg,
		client:     httpc.ForModel(cfg.Timeout),
		logger:     cfg.Logger.With("component", "tts.coqui"),
		parseError: plainError(providerCoqui),
	}
	return c, nil
}

// Synthesize renders text to WAV.
func (c *Coqui) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	q := url.Values{}
	q.Set("text", req.Text)
	q.Set("speaker_id", c.config.voice(req))
	q.Set("style_wav", "")
	// Multilingual models (xtts, yourtts) take a language id.
	if c.config.ModelID != "" && req.Language != "" {
		q.Set("language_id", req.Language)
	}

	audio, err := c.fetch(ctx, http.MethodGet, c.baseURL+"/api/tts?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	c.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: 22050, Channels: 1, BitDepth: 16},
		CharCount: len(req.Text),
		LatencyMs: latency,
	}, nil
}

// Health probes the server's web page.
func (c *Coqui) Health(ctx context.Context) error {
	_, err := c.fetch(ctx, http.MethodGet, c.baseURL+"/", nil)
	return err
}

// Close releases idle connections.
func (c *Coqui) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

var _ Provider = (*Coqui)(nil)

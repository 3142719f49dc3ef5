package tts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-phonic/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs
const (
	// ModelTurboV2_5 is the fastest English model (~200ms latency).
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelFlashV2_5 is the fastest multilingual model (~150ms latency).
	ModelFlashV2_5 = "eleven_flash_v2_5"

	// ModelMultilingualV2 is the highest quality multilingual model (~300ms latency).
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs implements Provider for the ElevenLabs REST API.
type ElevenLabs struct {
	httpBackend
	baseURL string
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := elevenLabsConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	e := &ElevenLabs{baseURL: baseURL}
	e.httpBackend = httpBackend{
		provider: providerElevenLabs,
		config:   cfg,
		client:   httpc.NewClient(cfg.Timeout),
		logger:   cfg.Logger.With("component", "tts.elevenlabs"),
		header: func(req *http.Request) {
			req.Header.Set("xi-api-key", cfg.APIKey)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "audio/pcm")
		},
		parseError: jsonError(providerElevenLabs, []any{"detail", "message"}, []any{"detail", "status"}),
	}
	return e, nil
}

func elevenLabsConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTurboV2_5
	cfg.VoiceID = DefaultElevenLabsVoice
	cfg.OutputFormat = EncodingPCM22
	cfg.Apply(opts...)
	if !cfg.OutputFormat.IsPCM() && cfg.OutputFormat != EncodingMP3 && cfg.OutputFormat != EncodingULaw {
		cfg.OutputFormat = EncodingPCM22
	}
	return cfg
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voiceID := ResolveElevenLabsVoice(e.config.voice(req))
	if voiceID == "" {
		return nil, ErrNoVoiceID
	}
	start := time.Now()

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		e.baseURL, url.PathEscape(voiceID), url.QueryEscape(string(e.config.OutputFormat)))

	audio, err := e.fetch(ctx, http.MethodPost, endpoint, elevenLabsPayload(e.config, req))
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	e.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
		"voice", voiceID,
	)

	format := elevenLabsFormat(e.config.OutputFormat)
	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(req.Text),
		LatencyMs: latency,
		Duration:  pcmDuration(len(audio), format.SampleRate),
	}, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	_, err := e.fetch(ctx, http.MethodGet, e.baseURL+"/user", nil)
	return err
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// ModelID returns the configured model ID.
func (e *ElevenLabs) ModelID() string {
	return e.config.ModelID
}

// elevenLabsPayload builds the request body. language_code is only
// understood by the v2.5 models.
func elevenLabsPayload(cfg *Config, req *Request) map[string]interface{} {
	p := map[string]interface{}{
		"text":     req.Text,
		"model_id": cfg.ModelID,
		"voice_settings": map[string]interface{}{
			"stability":         cfg.VoiceSettings.Stability,
			"similarity_boost":  cfg.VoiceSettings.SimilarityBoost,
			"style":             cfg.VoiceSettings.Style,
			"use_speaker_boost": cfg.VoiceSettings.SpeakerBoost,
			"speed":             cfg.Speed,
		},
	}
	if req.Language != "" && strings.HasSuffix(cfg.ModelID, "_v2_5") {
		p["language_code"] = req.Language
	}
	return p
}

func elevenLabsFormat(enc Encoding) AudioFormat {
	return AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
		BitDepth:   16,
	}
}

// Verify ElevenLabs implements Provider at compile time.
var _ Provider = (*ElevenLabs)(nil)

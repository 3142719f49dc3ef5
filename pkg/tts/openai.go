package tts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-phonic/internal/httpc"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"   // Neutral voice
	VoiceEcho    = "echo"    // Male voice
	VoiceFable   = "fable"   // British accent
	VoiceOnyx    = "onyx"    // Deep male voice
	VoiceNova    = "nova"    // Female voice
	VoiceShimmer = "shimmer" // Soft female voice
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// OpenAI implements Provider for the OpenAI /audio/speech endpoint, or
// any server exposing the same API.
type OpenAI struct {
	httpBackend
	baseURL string
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceShimmer
	cfg.OutputFormat = EncodingWAV
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	o := &OpenAI{baseURL: baseURL}
	o.httpBackend = httpBackend{
		provider: providerOpenAI,
		config:   cfg,
		client:   httpc.NewClient(cfg.Timeout),
		logger:   cfg.Logger.With("component", "tts.openai"),
		header: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			req.Header.Set("Content-Type", "application/json")
		},
		parseError: jsonError(providerOpenAI, []any{"error", "message"}, []any{"error", "code"}),
	}
	return o, nil
}

// Synthesize requests WAV audio for the text.
func (o *OpenAI) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	payload := map[string]interface{}{
		"model":           o.config.ModelID,
		"voice":           o.config.voice(req),
		"input":           req.Text,
		"response_format": "wav",
	}
	if o.config.Speed > 0 && o.config.Speed != 1.0 {
		payload["speed"] = o.config.Speed
	}

	audio, err := o.fetch(ctx, http.MethodPost, o.baseURL+"/audio/speech", payload)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.voice(req),
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: 24000, Channels: 1, BitDepth: 16},
		CharCount: len(req.Text),
		LatencyMs: latency,
	}, nil
}

// Health checks API connectivity.
func (o *OpenAI) Health(ctx context.Context) error {
	_, err := o.fetch(ctx, http.MethodGet, o.baseURL+"/models", nil)
	return err
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured default voice.
func (o *OpenAI) VoiceID() string {
	return o.config.VoiceID
}

// Verify OpenAI implements Provider at compile time.
var _ Provider = (*OpenAI)(nil)

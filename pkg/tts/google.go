package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"
)

const (
	providerGoogle   = "google"
	googleSampleRate = 24000
)

// regions picks the locale for a bare language code when the voice
// name does not carry one.
var regions = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
}

// Google implements Provider for Google Cloud Text-to-Speech.
//
// Credentials come from, in order: an API key, a service account JSON
// file, or Application Default Credentials.
type Google struct {
	config  *Config
	logger  *slog.Logger
	service *texttospeech.Service
}

// GoogleOption configures Google-only settings.
type GoogleOption func(*googleSettings)

type googleSettings struct {
	credentialsFile string
}

// WithCredentialsFile authenticates with a service account key file.
func WithCredentialsFile(path string) GoogleOption {
	return func(s *googleSettings) { s.credentialsFile = path }
}

// NewGoogle creates a Google Cloud TTS provider.
func NewGoogle(ctx context.Context, opts []Option, gopts ...GoogleOption) (*Google, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = "en-US-Neural2-F"
	cfg.OutputFormat = EncodingWAV
	cfg.Apply(opts...)

	var gs googleSettings
	for _, o := range gopts {
		o(&gs)
	}

	clientOpts, err := googleClientOptions(ctx, cfg, gs)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.google"),
		service: svc,
	}, nil
}

func googleClientOptions(ctx context.Context, cfg *Config, gs googleSettings) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	var ts oauth2.TokenSource
	switch {
	case cfg.APIKey != "":
		return append(opts, option.WithAPIKey(cfg.APIKey)), nil
	case gs.credentialsFile != "":
		data, err := os.ReadFile(gs.credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		ts = creds.TokenSource
	default:
		var err error
		ts, err = google.DefaultTokenSource(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("default credentials: %w", err)
		}
	}
	return append(opts, option.WithTokenSource(oauth2.ReuseTokenSource(nil, ts))), nil
}

// Synthesize requests LINEAR16 audio, which Google returns as a WAV file.
func (g *Google) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	name := g.config.voice(req)
	call := g.service.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: req.Text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: languageCode(name, req.Language),
			Name:         name,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: googleSampleRate,
			SpeakingRate:    g.config.Speed,
		},
	})

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, googleError(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	g.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", name,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: googleSampleRate, Channels: 1, BitDepth: 16},
		CharCount: len(req.Text),
		LatencyMs: latency,
		Duration:  pcmDuration(len(audio)-44, googleSampleRate),
	}, nil
}

// Health lists English voices to verify credentials.
func (g *Google) Health(ctx context.Context) error {
	if _, err := g.service.Voices.List().LanguageCode("en-US").Context(ctx).Do(); err != nil {
		return googleError(err)
	}
	return nil
}

// Close does nothing; the service holds no long-lived connections of its own.
func (g *Google) Close() error {
	return nil
}

// languageCode derives a BCP-47 code from a voice name like
// "es-ES-Neural2-A", falling back to the request language.
func languageCode(voiceName, lang string) string {
	if parts := strings.SplitN(voiceName, "-", 3); len(parts) == 3 && len(parts[0]) == 2 {
		return parts[0] + "-" + parts[1]
	}
	if code, ok := regions[lang]; ok {
		return code
	}
	if lang == "" {
		return "en-US"
	}
	return lang
}

func googleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{StatusCode: gerr.Code, Message: gerr.Message, Provider: providerGoogle}
	}
	return WrapError(providerGoogle, err)
}

var _ Provider = (*Google)(nil)

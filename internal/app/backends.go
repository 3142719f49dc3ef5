package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-phonic/internal/config"
	"github.com/teslashibe/go-phonic/pkg/inference"
	"github.com/teslashibe/go-phonic/pkg/pipeline"
	"github.com/teslashibe/go-phonic/pkg/stt"
	"github.com/teslashibe/go-phonic/pkg/tts"
)

// MockUtterance is what the mock transcriber hears.
const MockUtterance = "Yesterday I goed to the market and buyed some apples."

// TranscriberBuilder returns a pipeline builder for the configured
// speech-to-text backend. The model argument comes from the pipeline's
// current settings, so a reconfigured model takes effect on next use.
func TranscriberBuilder(cfg config.STT, logger *slog.Logger) pipeline.TranscriberBuilder {
	return func(_ context.Context, model string) (stt.Transcriber, error) {
		opts := []stt.Option{
			stt.WithModel(model),
			stt.WithAPIKey(cfg.APIKey),
			stt.WithLanguage(cfg.Language),
			stt.WithTimeout(cfg.Timeout),
			stt.WithLogger(logger),
		}
		if cfg.URL != "" {
			opts = append(opts, stt.WithBaseURL(cfg.URL))
		}

		var (
			t   stt.Transcriber
			err error
		)
		switch cfg.Backend {
		case "openai":
			t, err = stt.NewOpenAI(opts...)
		case "whisper-server":
			t, err = stt.NewWhisper(opts...)
		case "mock":
			t = stt.NewMock(MockUtterance)
		default:
			err = fmt.Errorf("app: unknown stt backend %q", cfg.Backend)
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// ModelBuilder returns a pipeline builder for the configured language
// model backend. With llm.fallback_url set, the client is chained with a
// second client of the same backend at that address.
func ModelBuilder(cfg config.LLM, logger *slog.Logger) pipeline.ModelBuilder {
	return func(_ context.Context, model string) (inference.Provider, error) {
		if cfg.Backend == "mock" {
			return inference.NewMock(), nil
		}

		primary, err := newModel(cfg, cfg.URL, model, logger)
		if err != nil {
			return nil, err
		}
		if cfg.FallbackURL == "" {
			return primary, nil
		}

		secondary, err := newModel(cfg, cfg.FallbackURL, model, logger)
		if err != nil {
			_ = primary.Close()
			return nil, err
		}
		chain, err := inference.NewChainWithLogger(logger, primary, secondary)
		if err != nil {
			return nil, err
		}
		return chain, nil
	}
}

func newModel(cfg config.LLM, url, model string, logger *slog.Logger) (inference.Provider, error) {
	opts := []inference.Option{
		inference.WithModel(model),
		inference.WithAPIKey(cfg.APIKey),
		inference.WithMaxTokens(cfg.MaxTokens),
		inference.WithTemperature(cfg.Temperature),
		inference.WithTimeout(cfg.Timeout),
		inference.WithLogger(logger),
	}
	if url != "" {
		opts = append(opts, inference.WithBaseURL(url))
	}

	var (
		p   inference.Provider
		err error
	)
	switch cfg.Backend {
	case "openai":
		p, err = inference.NewClient(opts...)
	case "ollama":
		p, err = inference.NewOllama(opts...)
	default:
		err = fmt.Errorf("app: unknown llm backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewSpeech creates the configured text-to-speech provider, chained with
// tts.fallback when one is named.
func NewSpeech(ctx context.Context, cfg config.TTS, logger *slog.Logger) (tts.Provider, error) {
	primary, err := newSpeech(ctx, cfg, cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == "" {
		return primary, nil
	}

	secondary, err := newSpeech(ctx, cfg, cfg.Fallback, logger)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	chain, err := tts.NewChainWithLogger(logger, primary, defaultVoice{secondary})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func newSpeech(ctx context.Context, cfg config.TTS, backend string, logger *slog.Logger) (tts.Provider, error) {
	opts := []tts.Option{
		tts.WithAPIKey(cfg.APIKey),
		tts.WithSpeed(cfg.Speed),
		tts.WithLogger(logger),
	}
	// The URL and model only make sense for the primary backend.
	if backend == cfg.Backend {
		if cfg.URL != "" {
			opts = append(opts, tts.WithBaseURL(cfg.URL))
		}
		if cfg.Model != "" {
			opts = append(opts, tts.WithModel(cfg.Model))
		}
	}

	var (
		p   tts.Provider
		err error
	)
	switch backend {
	case "openai":
		p, err = tts.NewOpenAI(opts...)
	case "elevenlabs":
		p, err = tts.NewElevenLabs(opts...)
	case "elevenlabs-ws":
		p, err = tts.NewElevenLabsWS(opts...)
	case "google":
		var gopts []tts.GoogleOption
		if cfg.CredentialsFile != "" {
			gopts = append(gopts, tts.WithCredentialsFile(cfg.CredentialsFile))
		}
		p, err = tts.NewGoogle(ctx, opts, gopts...)
	case "coqui":
		p, err = tts.NewCoqui(opts...)
	case "espeak":
		p, err = tts.NewESpeak(append(opts, tts.WithCommand(cfg.Command))...)
	case "mock":
		p = tts.NewMock()
	default:
		err = fmt.Errorf("app: unknown tts backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// defaultVoice drops the requested voice id. Voice ids are picked from
// the primary backend's presets and mean nothing to the fallback.
type defaultVoice struct {
	tts.Provider
}

func (d defaultVoice) Synthesize(ctx context.Context, req *tts.Request) (*tts.AudioResult, error) {
	r := *req
	r.Voice = ""
	return d.Provider.Synthesize(ctx, &r)
}

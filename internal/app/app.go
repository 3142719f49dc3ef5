// Package app assembles a coaching pipeline from configuration: storage,
// the speech, language and synthesis backends, and the orchestrator that
// drives them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-phonic/internal/config"
	"github.com/teslashibe/go-phonic/internal/natsbus"
	"github.com/teslashibe/go-phonic/internal/workpool"
	"github.com/teslashibe/go-phonic/pkg/artifact"
	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/pipeline"
	"github.com/teslashibe/go-phonic/pkg/profile"
	"github.com/teslashibe/go-phonic/pkg/synth"
	"github.com/teslashibe/go-phonic/pkg/tts"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

// App owns every long-lived resource behind one Orchestrator.
type App struct {
	Config   *config.Config
	Pipeline *pipeline.Orchestrator

	bus       *natsbus.Bus
	history   history.Store
	artifacts artifact.Store
	speech    tts.Provider
	logger    *slog.Logger
}

// New builds the application described by cfg. Backends that talk to
// model servers are created lazily, so New does no network I/O except
// for connecting to NATS when that storage backend is selected.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, logger: logger.With("component", "app")}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if err := a.openStores(); err != nil {
		return nil, err
	}

	speech, err := NewSpeech(ctx, cfg.TTS, logger)
	if err != nil {
		return nil, err
	}
	a.speech = speech

	fallback, err := voice.ParseProfile(cfg.Voice.FallbackProfile)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	profiler := profile.New(
		profile.WithThreshold(cfg.Voice.PitchThresholdHz),
		profile.WithFallback(fallback),
		profile.WithMaxDuration(time.Duration(cfg.Pipeline.MaxAudioSeconds)*time.Second),
		profile.WithLogger(logger),
	)

	pool := workpool.New(cfg.Pipeline.Workers)
	synthesizer := synth.New(speech, a.artifacts, pool,
		synth.WithBackend(cfg.TTS.Backend),
		synth.WithPolicy(voice.NewTable(cfg.TTS.Backend, map[voice.Category]string{
			voice.Coaching:       cfg.Voice.CoachingLanguage,
			voice.Conversational: cfg.Voice.ConversationalLanguage,
		})),
		synth.WithLogger(logger),
	)

	categories := make([]voice.Category, 0, len(cfg.Pipeline.Synthesize))
	for _, name := range cfg.Pipeline.Synthesize {
		c, err := voice.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		categories = append(categories, c)
	}

	orch, err := pipeline.New(pipeline.Components{
		Transcriber: TranscriberBuilder(cfg.STT, logger),
		Model:       ModelBuilder(cfg.LLM, logger),
		Profiler:    profiler,
		Synthesizer: synthesizer,
		History:     a.history,
		Artifacts:   a.artifacts,
		Pool:        pool,
	},
		pipeline.WithContextTurns(cfg.Pipeline.ContextTurns),
		pipeline.WithSynthesize(categories...),
		pipeline.WithSampling(cfg.LLM.MaxTokens, cfg.LLM.Temperature),
		pipeline.WithSettings(pipeline.Settings{
			TranscriptionModel: cfg.STT.Model,
			LLMModel:           cfg.LLM.Model,
			TTSVoice:           cfg.TTS.Voice,
		}),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	a.Pipeline = orch

	a.logger.Info("pipeline ready",
		"storage", cfg.Storage.Backend,
		"stt", cfg.STT.Backend,
		"llm", cfg.LLM.Backend,
		"tts", cfg.TTS.Backend,
		"synthesize", cfg.Pipeline.Synthesize)
	ok = true
	return a, nil
}

func (a *App) openStores() error {
	cfg := a.Config
	switch cfg.Storage.Backend {
	case "nats":
		bus, err := natsbus.Connect(natsbus.Options{
			URL:      cfg.NATS.URL,
			Embedded: cfg.NATS.Embedded,
			StoreDir: filepath.Join(cfg.Storage.Dir, "jetstream"),
			Name:     "phonic",
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		a.bus = bus

		hs, err := history.NewKVStore(bus.JS, cfg.NATS.HistoryBucket, a.logger)
		if err != nil {
			return err
		}
		a.history = hs

		as, err := artifact.NewObjectStore(bus.JS, cfg.NATS.ArtifactBucket)
		if err != nil {
			return err
		}
		a.artifacts = as

	default:
		hs, err := history.NewFileStore(filepath.Join(cfg.Storage.Dir, "conversations"), a.logger)
		if err != nil {
			return err
		}
		a.history = hs

		as, err := artifact.NewFileStore(filepath.Join(cfg.Storage.Dir, "feedback"))
		if err != nil {
			return err
		}
		a.artifacts = as
	}
	return nil
}

// UploadDir is where the web server stages uploads: server.upload_dir,
// or an uploads directory under storage.dir.
func (a *App) UploadDir() (string, error) {
	dir := a.Config.Server.UploadDir
	if dir == "" {
		dir = filepath.Join(a.Config.Storage.Dir, "uploads")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("app: create upload dir: %w", err)
	}
	return dir, nil
}

// Close releases the pipeline, the backends and the stores, in that
// order. It is safe to call on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.Pipeline != nil {
		errs = append(errs, a.Pipeline.Close())
	}
	if a.speech != nil {
		errs = append(errs, a.speech.Close())
	}
	if a.artifacts != nil {
		errs = append(errs, a.artifacts.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	return errors.Join(errs...)
}

// Package pipeline runs one coaching turn end to end: it profiles and
// transcribes the user's audio, asks the language model for coaching and
// a conversational reply, synthesizes the configured replies and appends
// the turn to the session's history.
//
// A turn either completes with every side effect applied or fails with a
// single error and leaves the stored history untouched.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-phonic/internal/lazy"
	"github.com/teslashibe/go-phonic/internal/workpool"
	"github.com/teslashibe/go-phonic/pkg/artifact"
	"github.com/teslashibe/go-phonic/pkg/coach"
	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/inference"
	"github.com/teslashibe/go-phonic/pkg/profile"
	"github.com/teslashibe/go-phonic/pkg/stt"
	"github.com/teslashibe/go-phonic/pkg/synth"
	"github.com/teslashibe/go-phonic/pkg/textclean"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

// Feedback is the result of one successful turn.
type Feedback struct {
	SessionID          string                              `json:"session_id"`
	Transcript         string                              `json:"transcript"`
	CoachingText       string                              `json:"coaching_text"`
	ConversationalText string                              `json:"conversational_text"`
	AudioRefs          map[voice.Category]artifact.Locator `json:"audio_refs"`

	// Profile is the speaker bucket used to pick the reply voices.
	Profile voice.Profile `json:"profile"`
}

// TranscriberBuilder creates a transcriber for the named model.
type TranscriberBuilder func(ctx context.Context, model string) (stt.Transcriber, error)

// ModelBuilder creates a language model client for the named model.
type ModelBuilder func(ctx context.Context, model string) (inference.Provider, error)

// Components are the collaborators an Orchestrator drives. Transcriber
// and Model are called lazily, on first use and after Reconfigure.
type Components struct {
	Transcriber TranscriberBuilder
	Model       ModelBuilder
	Profiler    *profile.Estimator
	Synthesizer *synth.Synthesizer
	History     history.Store
	Artifacts   artifact.Store

	// Pool runs transcription. Share it with the Synthesizer so both
	// blocking calls draw from the same workers.
	Pool *workpool.Pool
}

// Orchestrator runs turns. It is safe for concurrent use; turns for the
// same session are not serialized.
type Orchestrator struct {
	transcriber *lazy.Value[stt.Transcriber]
	model       *lazy.Value[inference.Provider]
	newSTT      TranscriberBuilder
	newModel    ModelBuilder

	generator *coach.Generator
	profiler  *profile.Estimator
	synth     *synth.Synthesizer
	history   history.Store
	artifacts artifact.Store
	pool      *workpool.Pool
	metrics   *MetricsCollector
	logger    *slog.Logger

	contextTurns int
	categories   []voice.Category
	maxTokens    int
	temperature  float64

	mu        sync.RWMutex
	settings  Settings
	observers []Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithContextTurns sets how many prior turns condition the model.
func WithContextTurns(k int) Option {
	return func(o *Orchestrator) { o.contextTurns = k }
}

// WithSynthesize sets which reply categories get an audio artifact.
func WithSynthesize(categories ...voice.Category) Option {
	return func(o *Orchestrator) { o.categories = categories }
}

// WithSampling sets max tokens and temperature for the model call.
func WithSampling(maxTokens int, temperature float64) Option {
	return func(o *Orchestrator) {
		o.maxTokens = maxTokens
		o.temperature = temperature
	}
}

// WithSettings sets the initial model settings.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithObserver registers a stage event observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithMetrics sets the collector that receives per-turn timings.
func WithMetrics(m *MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator. No backend is contacted until the first
// turn or health check.
func New(c Components, opts ...Option) (*Orchestrator, error) {
	switch {
	case c.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber builder is required")
	case c.Model == nil:
		return nil, errors.New("pipeline: model builder is required")
	case c.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case c.History == nil:
		return nil, errors.New("pipeline: history store is required")
	case c.Artifacts == nil:
		return nil, errors.New("pipeline: artifact store is required")
	}

	o := &Orchestrator{
		newSTT:       c.Transcriber,
		newModel:     c.Model,
		profiler:     c.Profiler,
		synth:        c.Synthesizer,
		history:      c.History,
		artifacts:    c.Artifacts,
		pool:         c.Pool,
		contextTurns: history.DefaultWindow,
		categories:   []voice.Category{voice.Conversational},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.contextTurns < 0 {
		return nil, fmt.Errorf("pipeline: context turns must not be negative, got %d", o.contextTurns)
	}
	categories, err := dedupe(o.categories)
	if err != nil {
		return nil, err
	}
	o.categories = categories

	if o.profiler == nil {
		o.profiler = profile.New(profile.WithLogger(o.logger))
	}
	if o.pool == nil {
		o.pool = workpool.New(1)
	}
	if o.metrics == nil {
		o.metrics = NewMetricsCollector()
	}
	if v := o.settings.TTSVoice; v != "" {
		o.synth.SetVoice(v)
	}
	o.logger = o.logger.With("component", "pipeline")

	o.transcriber = lazy.New(o.buildTranscriber).WithClose(func(t stt.Transcriber) error { return t.Close() })
	o.model = lazy.New(o.buildModel).WithClose(func(p inference.Provider) error { return p.Close() })

	gopts := []coach.Option{coach.WithWindow(o.contextTurns), coach.WithLogger(o.logger)}
	if o.maxTokens > 0 || o.temperature > 0 {
		gopts = append(gopts, coach.WithSampling(o.maxTokens, o.temperature))
	}
	o.generator = coach.New(o.model, gopts...)
	return o, nil
}

func dedupe(categories []voice.Category) ([]voice.Category, error) {
	if len(categories) == 0 {
		return nil, errors.New("pipeline: at least one synthesis category is required")
	}
	seen := make(map[voice.Category]bool, len(categories))
	out := make([]voice.Category, 0, len(categories))
	for _, c := range categories {
		if _, err := voice.ParseCategory(string(c)); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (o *Orchestrator) buildTranscriber(ctx context.Context) (stt.Transcriber, error) {
	model := o.Settings().TranscriptionModel
	o.logger.Info("loading transcriber", "model", model)
	return o.newSTT(ctx, model)
}

func (o *Orchestrator) buildModel(ctx context.Context) (inference.Provider, error) {
	model := o.Settings().LLMModel
	o.logger.Info("connecting language model", "model", model)
	return o.newModel(ctx, model)
}

// Categories returns the reply categories that get an audio artifact.
func (o *Orchestrator) Categories() []voice.Category {
	return append([]voice.Category(nil), o.categories...)
}

// Synthesizes reports whether c gets an audio artifact.
func (o *Orchestrator) Synthesizes(c voice.Category) bool {
	for _, x := range o.categories {
		if x == c {
			return true
		}
	}
	return false
}

// ContextTurns returns the context window size.
func (o *Orchestrator) ContextTurns() int { return o.contextTurns }

// Metrics returns the collector receiving per-turn timings.
func (o *Orchestrator) Metrics() *MetricsCollector { return o.metrics }

// Subscribe registers an observer after construction.
func (o *Orchestrator) Subscribe(fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

func (o *Orchestrator) snapshotObservers() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Observer(nil), o.observers...)
}

// Process runs one turn for the audio at audioPath.
//
// A missing audio file yields ErrInputNotFound as is. Every other failure
// is a *PipelineError naming the stage that failed; in that case no turn
// is appended and any artifact written during the call is removed. An
// empty transcript or a failed model call still completes the turn with
// degraded coaching text.
func (o *Orchestrator) Process(ctx context.Context, audioPath, sessionID string) (*Feedback, error) {
	r := newRun(sessionID, o.snapshotObservers())
	fb, err := o.process(ctx, r, audioPath, sessionID)

	m := r.finish()
	o.metrics.Record(m)
	if err != nil {
		o.logger.Warn("turn failed", "session", sessionID, "stage", m.Failed, "error", err, "elapsed", m.Total)
		return nil, err
	}
	o.logger.Info("turn complete", "session", sessionID, "profile", fb.Profile, "latency", m.FormatLatency())
	return fb, nil
}

func (o *Orchestrator) process(ctx context.Context, r *run, audioPath, sessionID string) (*Feedback, error) {
	info, err := os.Stat(audioPath)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		r.fail(StageReceived, ErrInputNotFound)
		return nil, ErrInputNotFound
	}
	if err != nil {
		return nil, r.fail(StageReceived, err)
	}
	if err := history.ValidateSessionID(sessionID); err != nil {
		return nil, r.fail(StageReceived, err)
	}
	r.reach(StageReceived)

	// Profile and transcript.
	var (
		speaker        voice.Profile
		transcript     *stt.Transcript
		profileTime    time.Duration
		transcribeTime time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		speaker = o.profiler.Estimate(gctx, audioPath)
		profileTime = time.Since(start)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		t, err := o.transcribe(gctx, audioPath)
		transcribeTime = time.Since(start)
		transcript = t
		return err
	})
	err = g.Wait()
	r.reachAfter(StageProfiled, profileTime)
	if err != nil {
		return nil, r.fail(StageTranscribed, err)
	}
	r.reachAfter(StageTranscribed, transcribeTime)

	turns, err := o.history.Read(ctx, sessionID)
	if err != nil {
		return nil, r.fail(StageContextualized, err)
	}
	window := history.Window(turns, o.contextTurns)
	r.reach(StageContextualized)

	coaching, conversational := o.generator.Generate(ctx, transcript.Text, window)
	r.reach(StageGenerated)

	coaching = textclean.StripTags(coaching)
	conversational = textclean.StripTags(conversational)
	r.reach(StageSanitized)

	staged, err := o.speak(ctx, sessionID, speaker, coaching, conversational)
	if err != nil {
		o.discard(sessionID, staged)
		return nil, r.fail(StageSynthesized, err)
	}
	r.reach(StageSynthesized)

	turn := history.Turn{User: transcript.Text, Coaching: coaching, Conversational: conversational}
	if err := o.history.Append(ctx, sessionID, turn); err != nil {
		o.discard(sessionID, staged)
		return nil, r.fail(StagePersisted, err)
	}
	r.reach(StagePersisted)

	refs, err := o.commit(sessionID, staged)
	if err != nil {
		return nil, r.fail(StageDone, err)
	}
	r.reach(StageDone)

	return &Feedback{
		SessionID:          sessionID,
		Transcript:         transcript.Text,
		CoachingText:       coaching,
		ConversationalText: conversational,
		AudioRefs:          refs,
		Profile:            speaker,
	}, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, path string) (*stt.Transcript, error) {
	tr, err := o.transcriber.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transcriber: %w", err)
	}
	t, err := workpool.Do(ctx, o.pool, func(ctx context.Context) (*stt.Transcript, error) {
		return tr.Transcribe(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &stt.Transcript{}, nil
	}
	return t, nil
}

// speak stages audio for each configured category. A category whose
// reply is empty, as after an empty transcript or a failed model call,
// speaks the coaching text instead. The live artifacts of earlier turns
// are not touched; on error the keys staged so far are returned so the
// caller can remove them.
func (o *Orchestrator) speak(ctx context.Context, sessionID string, speaker voice.Profile, coaching, conversational string) (map[voice.Category]string, error) {
	texts := map[voice.Category]string{
		voice.Coaching:       coaching,
		voice.Conversational: conversational,
	}

	staged := make(map[voice.Category]string, len(o.categories))
	for _, c := range o.categories {
		text := texts[c]
		if strings.TrimSpace(text) == "" {
			text = coaching
		}
		key, err := o.synth.Stage(ctx, text, sessionID, c, speaker)
		if err != nil {
			return staged, fmt.Errorf("%s: %w", c, err)
		}
		staged[c] = key
	}
	return staged, nil
}

// commit renames staged audio over the session's live artifacts once the
// turn is in history. It runs detached from the turn's context so a late
// cancel cannot leave the turn half committed.
func (o *Orchestrator) commit(sessionID string, staged map[voice.Category]string) (map[voice.Category]artifact.Locator, error) {
	refs := make(map[voice.Category]artifact.Locator, len(staged))
	var errs []error
	for c, key := range staged {
		loc, err := o.artifacts.Rename(context.Background(), key, artifact.Key(sessionID, c))
		if err != nil {
			errs = append(errs, fmt.Errorf("commit %s audio: %w", c, err))
			_ = o.artifacts.Delete(context.Background(), key)
			continue
		}
		refs[c] = loc
	}
	return refs, errors.Join(errs...)
}

// discard removes the staged artifacts of a failed turn.
func (o *Orchestrator) discard(sessionID string, staged map[voice.Category]string) {
	for c, key := range staged {
		// The turn's context may already be done; cleanup must still run.
		if err := o.artifacts.Delete(context.Background(), key); err != nil {
			o.logger.Warn("discard artifact", "session", sessionID, "category", c, "error", err)
		}
	}
}

// Close releases the cached transcriber and model handles.
func (o *Orchestrator) Close() error {
	return errors.Join(o.transcriber.Reset(nil), o.model.Reset(nil))
}

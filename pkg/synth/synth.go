// Package synth turns reply text into a stored WAV artifact: it picks a
// voice, filters the text for the backend, runs the backend on the worker
// pool and verifies what was written.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-phonic/internal/workpool"
	"github.com/teslashibe/go-phonic/pkg/artifact"
	"github.com/teslashibe/go-phonic/pkg/textclean"
	"github.com/teslashibe/go-phonic/pkg/tts"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

var (
	// ErrEmptyInput is returned when filtering leaves nothing to speak.
	ErrEmptyInput = textclean.ErrEmptyInput

	// ErrSynthesisFailed wraps any backend, encoding or storage failure,
	// and a stored artifact of zero bytes.
	ErrSynthesisFailed = errors.New("synth: synthesis failed")
)

// Backends whose voices only cover the English set regardless of target
// language. espeak-ng ships voices for every preset language and is not
// listed.
var englishOnly = map[string]bool{
	"coqui": true,
}

// CharsetFor returns the allow-list used for backend speaking lang.
func CharsetFor(backend, lang string) *textclean.Charset {
	if englishOnly[strings.ToLower(backend)] {
		return textclean.English
	}
	return textclean.ForLanguage(lang)
}

// Synthesizer owns one synthesis backend and the artifact store it writes to.
type Synthesizer struct {
	provider tts.Provider
	store    artifact.Store
	pool     *workpool.Pool
	backend  string
	policy   voice.Policy
	logger   *slog.Logger

	mu       sync.RWMutex
	override string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithBackend names the backend, which selects the charset and, unless
// WithPolicy is given, the voice preset table.
func WithBackend(name string) Option {
	return func(s *Synthesizer) { s.backend = name }
}

// WithPolicy replaces the voice policy.
func WithPolicy(p voice.Policy) Option {
	return func(s *Synthesizer) { s.policy = p }
}

// WithVoice forces every request onto one voice id.
func WithVoice(id string) Option {
	return func(s *Synthesizer) { s.override = id }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// New creates a Synthesizer. A nil pool runs one job at a time.
func New(provider tts.Provider, store artifact.Store, pool *workpool.Pool, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		provider: provider,
		store:    store,
		pool:     pool,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = workpool.New(1)
	}
	if s.policy == nil {
		s.policy = voice.NewTable(s.backend, nil)
	}
	s.logger = s.logger.With("component", "synth", "backend", s.backend)
	return s
}

// Backend returns the configured backend name.
func (s *Synthesizer) Backend() string { return s.backend }

// Voice returns the current voice override, or "" when the policy decides.
func (s *Synthesizer) Voice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.override
}

// SetVoice replaces the voice override. An empty id hands the choice back
// to the policy.
func (s *Synthesizer) SetVoice(id string) {
	s.mu.Lock()
	s.override = id
	s.mu.Unlock()
}

// Health reports whether the backend can serve requests.
func (s *Synthesizer) Health(ctx context.Context) error {
	return s.provider.Health(ctx)
}

// Synthesize speaks text for the session and category in a voice chosen
// from the speaker profile, stores it as <session>_<category>.wav and
// returns where it landed. An existing artifact for the same key is
// overwritten.
func (s *Synthesizer) Synthesize(ctx context.Context, text, session string, category voice.Category, profile voice.Profile) (artifact.Locator, error) {
	return s.write(ctx, artifact.Key(session, category), text, session, category, profile)
}

// Stage is Synthesize for a turn that is not committed yet. The audio is
// stored under a fresh staging key, which is returned, and the live
// artifact is left alone. The caller renames the staged key over
// artifact.Key or deletes it.
func (s *Synthesizer) Stage(ctx context.Context, text, session string, category voice.Category, profile voice.Profile) (string, error) {
	key := artifact.StagingKey(session, category, uuid.NewString())
	if _, err := s.write(ctx, key, text, session, category, profile); err != nil {
		// A failed size check can leave the bytes behind.
		_ = s.store.Delete(context.Background(), key)
		return "", err
	}
	return key, nil
}

func (s *Synthesizer) write(ctx context.Context, key, text, session string, category voice.Category, profile voice.Profile) (artifact.Locator, error) {
	sel := s.policy.Select(category, profile)
	if v := s.Voice(); v != "" {
		sel.Voice = v
	}

	cs := CharsetFor(s.backend, sel.Language)
	filtered, err := cs.Filter(text)
	if err != nil {
		return "", err
	}
	if filtered == "" {
		return "", ErrEmptyInput
	}

	start := time.Now()
	result, err := workpool.Do(ctx, s.pool, func(ctx context.Context) (*tts.AudioResult, error) {
		return s.provider.Synthesize(ctx, &tts.Request{
			Text:     filtered,
			Voice:    sel.Voice,
			Language: sel.Language,
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	data, err := result.WAV()
	if err != nil {
		return "", fmt.Errorf("%w: encode: %w", ErrSynthesisFailed, err)
	}

	loc, err := s.store.Put(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("%w: store: %w", ErrSynthesisFailed, err)
	}

	size, err := s.store.Size(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: verify: %w", ErrSynthesisFailed, err)
	}
	if size == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrSynthesisFailed, key)
	}

	s.logger.Debug("artifact stored",
		"session", session,
		"category", category,
		"key", key,
		"voice", sel.Voice,
		"language", sel.Language,
		"charset", cs.Name(),
		"bytes", size,
		"elapsed", time.Since(start))
	return loc, nil
}

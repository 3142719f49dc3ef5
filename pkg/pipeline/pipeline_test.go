package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-phonic/internal/log"
	"github.com/teslashibe/go-phonic/internal/workpool"
	"github.com/teslashibe/go-phonic/pkg/artifact"
	"github.com/teslashibe/go-phonic/pkg/coach"
	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/inference"
	"github.com/teslashibe/go-phonic/pkg/profile"
	"github.com/teslashibe/go-phonic/pkg/stt"
	"github.com/teslashibe/go-phonic/pkg/synth"
	"github.com/teslashibe/go-phonic/pkg/tts"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

// writeTone writes one second of a sine at freq as 16 kHz mono WAV.
func writeTone(t *testing.T, freq float64) string {
	t.Helper()
	const rate = 16000
	path := filepath.Join(t.TempDir(), "input.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, rate)
	for i := range data {
		data[i] = int(0.5 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

type harness struct {
	orch      *Orchestrator
	stt       *stt.Mock
	llm       *inference.Mock
	tts       *tts.Mock
	history   history.Store
	artifacts *artifact.FileStore

	sttBuilds atomic.Int32
	llmBuilds atomic.Int32
	models    []string

	mu     sync.Mutex
	events []Event
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	transcript string
	llm        *inference.Mock
	tts        *tts.Mock
	backend    string
	history    func(history.Store) history.Store
	opts       []Option
}

func withTranscript(s string) harnessOption {
	return func(c *harnessConfig) { c.transcript = s }
}

func withLLM(m *inference.Mock) harnessOption {
	return func(c *harnessConfig) { c.llm = m }
}

func withTTS(m *tts.Mock, backend string) harnessOption {
	return func(c *harnessConfig) { c.tts, c.backend = m, backend }
}

func withHistory(wrap func(history.Store) history.Store) harnessOption {
	return func(c *harnessConfig) { c.history = wrap }
}

func withOptions(opts ...Option) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func newHarness(t *testing.T, hopts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		transcript: "I goed to the store yesterday.",
		llm:        inference.NewMock(),
		tts:        tts.NewMock(),
		backend:    "openai",
	}
	for _, o := range hopts {
		o(&cfg)
	}

	dir := t.TempDir()
	hs, err := history.NewFileStore(filepath.Join(dir, "conversations"), log.Discard())
	require.NoError(t, err)
	var store history.Store = hs
	if cfg.history != nil {
		store = cfg.history(hs)
	}
	as, err := artifact.NewFileStore(filepath.Join(dir, "feedback"))
	require.NoError(t, err)

	pool := workpool.New(2)
	h := &harness{
		stt:       stt.NewMock(cfg.transcript),
		llm:       cfg.llm,
		tts:       cfg.tts,
		history:   store,
		artifacts: as,
	}

	opts := append([]Option{
		WithLogger(log.Discard()),
		WithObserver(func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		}),
		WithSettings(Settings{TranscriptionModel: "base", LLMModel: "llama3"}),
	}, cfg.opts...)

	h.orch, err = New(Components{
		Transcriber: func(ctx context.Context, model string) (stt.Transcriber, error) {
			h.sttBuilds.Add(1)
			return h.stt, nil
		},
		Model: func(ctx context.Context, model string) (inference.Provider, error) {
			h.llmBuilds.Add(1)
			h.mu.Lock()
			h.models = append(h.models, model)
			h.mu.Unlock()
			return h.llm, nil
		},
		Profiler:    profile.New(profile.WithLogger(log.Discard())),
		Synthesizer: synth.New(h.tts, as, pool, synth.WithBackend(cfg.backend), synth.WithLogger(log.Discard())),
		History:     store,
		Artifacts:   as,
		Pool:        pool,
	}, opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) stages() []Stage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Stage, len(h.events))
	for i, e := range h.events {
		out[i] = e.Stage
	}
	return out
}

func (h *harness) turns(t *testing.T, session string) []history.Turn {
	t.Helper()
	turns, err := h.history.Read(context.Background(), session)
	require.NoError(t, err)
	return turns
}

func (h *harness) artifactFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.artifacts.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fb, err := h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)

	require.Equal(t, "s1", fb.SessionID)
	require.Equal(t, "I goed to the store yesterday.", fb.Transcript)
	require.Equal(t, "Nice sentence!", fb.CoachingText)
	require.Equal(t, "Tell me more.", fb.ConversationalText)
	require.Equal(t, voice.Low, fb.Profile)
	require.Len(t, fb.AudioRefs, 1)
	require.Equal(t, artifact.Locator(filepath.Join(h.artifacts.Dir(), "s1_conversational.wav")), fb.AudioRefs[voice.Conversational])

	require.Equal(t, []history.Turn{{
		User:           "I goed to the store yesterday.",
		Coaching:       "Nice sentence!",
		Conversational: "Tell me more.",
	}}, h.turns(t, "s1"))
	require.Equal(t, []string{"s1_conversational.wav"}, h.artifactFiles(t))
	require.Equal(t, Stages(), h.stages())

	// Low speaker is answered by a female voice.
	require.Equal(t, "nova", h.tts.LastCall().Voice)

	total, failed := h.orch.Metrics().Count()
	require.Equal(t, 1, total)
	require.Zero(t, failed)
}

func TestProcessHighSpeaker(t *testing.T) {
	h := newHarness(t)

	fb, err := h.orch.Process(context.Background(), writeTone(t, 220), "s1")
	require.NoError(t, err)
	require.Equal(t, voice.High, fb.Profile)
	require.Equal(t, "onyx", h.tts.LastCall().Voice)
}

func TestProcessBothCategories(t *testing.T) {
	h := newHarness(t, withOptions(WithSynthesize(voice.Coaching, voice.Conversational, voice.Coaching)))

	fb, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
	require.NoError(t, err)
	require.Len(t, fb.AudioRefs, 2)
	require.ElementsMatch(t, []string{"s1_coaching.wav", "s1_conversational.wav"}, h.artifactFiles(t))
	require.Equal(t, 2, h.tts.CallCount("Synthesize"))
}

func TestProcessInputNotFound(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{filepath.Join(t.TempDir(), "missing.wav"), "", t.TempDir()} {
		_, err := h.orch.Process(context.Background(), path, "s1")
		require.True(t, err == ErrInputNotFound, "path %q: got %v", path, err)
	}

	require.Empty(t, h.turns(t, "s1"))
	require.Empty(t, h.stt.Calls())
	require.Zero(t, h.sttBuilds.Load())
	require.Contains(t, h.stages(), StageFailed)
}

func TestProcessInvalidSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Process(context.Background(), writeTone(t, 110), "../etc")
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageReceived, pe.Stage)
	require.ErrorIs(t, err, history.ErrInvalidSession)
}

func TestProcessTranscriptionError(t *testing.T) {
	h := newHarness(t)
	h.stt.WithError(errors.New("model exploded"))

	_, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageTranscribed, pe.Stage)
	require.Contains(t, err.Error(), "model exploded")

	require.Zero(t, h.llm.CallCount("Chat"))
	require.Empty(t, h.turns(t, "s1"))
	require.Empty(t, h.artifactFiles(t))

	stages := h.stages()
	require.Equal(t, StageFailed, stages[len(stages)-1])
	require.NotContains(t, stages, StageGenerated)
}

func TestProcessTranscriberLoadFailureRetries(t *testing.T) {
	h := newHarness(t)
	var attempts atomic.Int32
	h.orch.newSTT = func(ctx context.Context, model string) (stt.Transcriber, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("weights missing")
		}
		return h.stt, nil
	}
	audio := writeTone(t, 110)

	_, err := h.orch.Process(context.Background(), audio, "s1")
	require.ErrorContains(t, err, "weights missing")

	_, err = h.orch.Process(context.Background(), audio, "s1")
	require.NoError(t, err)
	require.EqualValues(t, 2, attempts.Load())
}

func TestProcessEmptyTranscript(t *testing.T) {
	for _, text := range []string{"", "   \n"} {
		h := newHarness(t, withTranscript(text))

		fb, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
		require.NoError(t, err)
		require.Equal(t, coach.NoSpeechMessage, fb.CoachingText)
		require.Empty(t, fb.ConversationalText)
		require.Zero(t, h.llm.CallCount("Chat"))

		// The empty reply slot speaks the guidance message.
		require.Equal(t, coach.NoSpeechMessage, h.tts.LastCall().Text)
		require.Len(t, h.turns(t, "s1"), 1)
	}
}

func TestProcessModelError(t *testing.T) {
	h := newHarness(t, withLLM(inference.WithError(errors.New("connection refused"))))

	fb, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
	require.NoError(t, err)
	require.Equal(t, "Error generating feedback: connection refused", fb.CoachingText)
	require.Empty(t, fb.ConversationalText)
	require.Len(t, h.turns(t, "s1"), 1)
}

func TestProcessStripsTags(t *testing.T) {
	h := newHarness(t, withLLM(inference.NewMockReply(
		"---COACHING---\n<b>Say &quot;went&quot;</b>\n---CONVERSATION---\n<i>What</i><i>did</i> you buy?")))

	fb, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
	require.NoError(t, err)
	require.Equal(t, `Say "went"`, fb.CoachingText)
	require.Equal(t, "What did you buy?", fb.ConversationalText)
	require.Equal(t, `Say "went"`, h.turns(t, "s1")[0].Coaching)
}

func TestProcessContextWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, h.history.Append(ctx, "s1", history.Turn{
			User:           fmt.Sprintf("utterance-%d", i),
			Coaching:       "c",
			Conversational: fmt.Sprintf("reply-%d", i),
		}))
	}

	_, err := h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)

	prompt := h.llm.LastRequest().Messages[1].Content
	for i := 3; i <= 5; i++ {
		require.Contains(t, prompt, fmt.Sprintf("utterance-%d", i))
	}
	require.NotContains(t, prompt, "utterance-1")
	require.NotContains(t, prompt, "utterance-2")
	require.Len(t, h.turns(t, "s1"), 6)
}

func TestProcessSynthesisFailureRollsBack(t *testing.T) {
	var n atomic.Int32
	ok := tts.NewMock()
	failing := &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, req *tts.Request) (*tts.AudioResult, error) {
			if n.Add(1) == 2 {
				return nil, &tts.APIError{StatusCode: 503, Message: "overloaded", Provider: "mock"}
			}
			return ok.SynthesizeFunc(ctx, req)
		},
	}
	h := newHarness(t,
		withTTS(failing, "openai"),
		withOptions(WithSynthesize(voice.Coaching, voice.Conversational)))

	_, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageSynthesized, pe.Stage)
	require.ErrorIs(t, err, synth.ErrSynthesisFailed)

	require.Empty(t, h.turns(t, "s1"))
	require.Empty(t, h.artifactFiles(t), "coaching artifact should be removed")

	_, failed := h.orch.Metrics().Count()
	require.Equal(t, 1, failed)
}

func TestProcessNothingToSpeak(t *testing.T) {
	h := newHarness(t,
		withLLM(inference.NewMockReply("---COACHING---\n很好\n---CONVERSATION---\nこんにちは")),
		withTTS(tts.NewMock(), "espeak"))

	_, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
	require.ErrorIs(t, err, synth.ErrEmptyInput)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageSynthesized, pe.Stage)
	require.Empty(t, h.turns(t, "s1"))
	require.Zero(t, h.tts.CallCount("Synthesize"))
}

type failingAppend struct{ history.Store }

func (failingAppend) Append(context.Context, string, history.Turn) error {
	return errors.New("disk full")
}

func TestProcessPersistFailure(t *testing.T) {
	h := newHarness(t, withHistory(func(s history.Store) history.Store { return failingAppend{s} }))

	_, err := h.orch.Process(context.Background(), writeTone(t, 110), "s1")
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StagePersisted, pe.Stage)
	require.Empty(t, h.artifactFiles(t))
}

// switchableAppend fails Append while fail is set.
type switchableAppend struct {
	history.Store
	fail *atomic.Bool
}

func (s switchableAppend) Append(ctx context.Context, id string, t history.Turn) error {
	if s.fail.Load() {
		return errors.New("disk full")
	}
	return s.Store.Append(ctx, id, t)
}

func (h *harness) audio(t *testing.T, session string, c voice.Category) []byte {
	t.Helper()
	rc, _, err := h.orch.Audio(context.Background(), session, c)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestProcessFailedTurnKeepsPriorAudio(t *testing.T) {
	var fail atomic.Bool
	h := newHarness(t,
		withHistory(func(s history.Store) history.Store { return switchableAppend{s, &fail} }),
		withOptions(WithSynthesize(voice.Coaching, voice.Conversational)))
	ctx := context.Background()

	_, err := h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)
	coaching := h.audio(t, "s1", voice.Coaching)
	conversational := h.audio(t, "s1", voice.Conversational)

	fail.Store(true)
	_, err = h.orch.Process(ctx, writeTone(t, 220), "s1")
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StagePersisted, pe.Stage)

	require.Len(t, h.turns(t, "s1"), 1)
	require.ElementsMatch(t, []string{"s1_coaching.wav", "s1_conversational.wav"}, h.artifactFiles(t))
	require.Equal(t, coaching, h.audio(t, "s1", voice.Coaching))
	require.Equal(t, conversational, h.audio(t, "s1", voice.Conversational))
}

func TestProcessSynthesisFailureKeepsPriorAudio(t *testing.T) {
	var n atomic.Int32
	ok := tts.NewMock()
	failing := &tts.Mock{
		SynthesizeFunc: func(ctx context.Context, req *tts.Request) (*tts.AudioResult, error) {
			// Turn one makes calls 1 and 2; turn two fails its second.
			if n.Add(1) == 4 {
				return nil, &tts.APIError{StatusCode: 503, Message: "overloaded", Provider: "mock"}
			}
			return ok.SynthesizeFunc(ctx, req)
		},
	}
	h := newHarness(t,
		withTTS(failing, "openai"),
		withOptions(WithSynthesize(voice.Coaching, voice.Conversational)))
	ctx := context.Background()

	_, err := h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)
	coaching := h.audio(t, "s1", voice.Coaching)

	_, err = h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.ErrorIs(t, err, synth.ErrSynthesisFailed)

	require.Len(t, h.turns(t, "s1"), 1)
	require.ElementsMatch(t, []string{"s1_coaching.wav", "s1_conversational.wav"}, h.artifactFiles(t))
	require.Equal(t, coaching, h.audio(t, "s1", voice.Coaching))
}

func TestProcessCommitsNewAudio(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)
	first := h.audio(t, "s1", voice.Conversational)

	h.llm.ChatFunc = inference.NewMockReply("---COACHING---\nGood.\n---CONVERSATION---\nWhat did you buy at the market this morning?").ChatFunc
	fb, err := h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)
	require.Equal(t, artifact.Locator(filepath.Join(h.artifacts.Dir(), "s1_conversational.wav")), fb.AudioRefs[voice.Conversational])
	require.NotEqual(t, first, h.audio(t, "s1", voice.Conversational))
	require.Equal(t, []string{"s1_conversational.wav"}, h.artifactFiles(t))
}

func TestProcessCachesHandles(t *testing.T) {
	h := newHarness(t)
	audio := writeTone(t, 110)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.Process(context.Background(), audio, fmt.Sprintf("s%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, h.sttBuilds.Load())
	require.EqualValues(t, 1, h.llmBuilds.Load())
}

func TestReconfigure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	audio := writeTone(t, 110)

	_, err := h.orch.Process(ctx, audio, "s1")
	require.NoError(t, err)

	s := h.orch.Settings()
	s.LLMModel = "mistral"
	s.TTSVoice = "alloy"
	require.NoError(t, h.orch.Reconfigure(ctx, s))
	require.Equal(t, s, h.orch.Settings())

	_, err = h.orch.Process(ctx, audio, "s1")
	require.NoError(t, err)

	require.EqualValues(t, 2, h.sttBuilds.Load())
	require.EqualValues(t, 2, h.llmBuilds.Load())
	require.Equal(t, []string{"llama3", "mistral"}, h.models)
	require.Equal(t, "alloy", h.tts.LastCall().Voice)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	got := h.orch.Health(context.Background())
	require.Equal(t, StatusOperational, got.Status)
	require.Equal(t, map[string]string{
		"transcriber": ComponentAvailable,
		"llm":         ComponentAvailable,
		"tts":         ComponentAvailable,
		"storage":     ComponentAvailable,
	}, got.Components)
}

func TestHealthDegraded(t *testing.T) {
	h := newHarness(t, withLLM(inference.WithError(errors.New("ollama down"))))

	got := h.orch.Health(context.Background())
	require.Equal(t, StatusDegraded, got.Status)
	require.True(t, strings.HasPrefix(got.Components["llm"], "error: "))
	require.Contains(t, got.Components["llm"], "ollama down")
	require.Equal(t, ComponentAvailable, got.Components["transcriber"])
}

func TestClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)

	cleared, err := h.orch.Clear(ctx, "s1")
	require.NoError(t, err)
	require.True(t, cleared)
	require.Empty(t, h.turns(t, "s1"))
	require.Empty(t, h.artifactFiles(t))

	cleared, err = h.orch.Clear(ctx, "never-seen")
	require.NoError(t, err)
	require.True(t, cleared)

	_, err = h.orch.Clear(ctx, "a/b")
	require.ErrorIs(t, err, history.ErrInvalidSession)
}

func TestAudio(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.orch.Audio(ctx, "s1", voice.Conversational)
	require.ErrorIs(t, err, artifact.ErrNotFound)

	_, err = h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)

	rc, size, err := h.orch.Audio(ctx, "s1", voice.Conversational)
	require.NoError(t, err)
	defer rc.Close()
	require.Positive(t, size)

	_, _, err = h.orch.Audio(ctx, "s1", voice.Coaching)
	require.ErrorIs(t, err, ErrNotSynthesized)
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	turns, err := h.orch.History(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, turns)

	_, err = h.orch.Process(ctx, writeTone(t, 110), "s1")
	require.NoError(t, err)

	turns, err = h.orch.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t)
	base := Components{
		Transcriber: h.orch.newSTT,
		Model:       h.orch.newModel,
		Synthesizer: h.orch.synth,
		History:     h.history,
		Artifacts:   h.artifacts,
	}

	tests := []struct {
		name   string
		mutate func(*Components)
		opts   []Option
	}{
		{"no transcriber", func(c *Components) { c.Transcriber = nil }, nil},
		{"no model", func(c *Components) { c.Model = nil }, nil},
		{"no synthesizer", func(c *Components) { c.Synthesizer = nil }, nil},
		{"no history", func(c *Components) { c.History = nil }, nil},
		{"no artifacts", func(c *Components) { c.Artifacts = nil }, nil},
		{"no categories", func(*Components) {}, []Option{WithSynthesize()}},
		{"bad category", func(*Components) {}, []Option{WithSynthesize("summary")}},
		{"negative window", func(*Components) {}, []Option{WithContextTurns(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			_, err := New(c, tt.opts...)
			require.Error(t, err)
		})
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&PipelineError{Stage: StageGenerated, Err: cause})
	require.ErrorIs(t, err, cause)
	require.Equal(t, "pipeline: generated: boom", err.Error())
}

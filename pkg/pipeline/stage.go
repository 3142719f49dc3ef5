package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Stage is a step of one Process call. The names are past tense: a stage
// is reached once its work has finished.
type Stage string

const (
	StageReceived       Stage = "received"
	StageProfiled       Stage = "profiled"
	StageTranscribed    Stage = "transcribed"
	StageContextualized Stage = "contextualized"
	StageGenerated      Stage = "generated"
	StageSanitized      Stage = "sanitized"
	StageSynthesized    Stage = "synthesized"
	StagePersisted      Stage = "persisted"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Stages lists the success path in order.
func Stages() []Stage {
	return []Stage{
		StageReceived, StageProfiled, StageTranscribed, StageContextualized,
		StageGenerated, StageSanitized, StageSynthesized, StagePersisted, StageDone,
	}
}

// ErrInputNotFound is returned, unwrapped, when the audio path does not
// exist.
var ErrInputNotFound = errors.New("pipeline: audio input not found")

// PipelineError reports a failed Process call. Stage names the step that
// could not be reached.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Event is emitted on every stage transition.
type Event struct {
	SessionID string        `json:"session_id"`
	Stage     Stage         `json:"stage"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs int64         `json:"elapsed_ms"`
	Error     string        `json:"error,omitempty"`

	// Failed is the stage that could not be reached; set on StageFailed.
	Failed Stage `json:"failed_stage,omitempty"`
}

// Observer receives stage events. It is called synchronously from
// Process and must not block.
type Observer func(Event)

// run tracks the timing of one Process call.
type run struct {
	session   string
	start     time.Time
	last      time.Time
	metrics   Metrics
	observers []Observer
}

func newRun(session string, observers []Observer) *run {
	now := time.Now()
	return &run{
		session:   session,
		start:     now,
		last:      now,
		metrics:   Metrics{SessionID: session, Started: now, Stages: make(map[Stage]time.Duration)},
		observers: observers,
	}
}

// reach records that stage finished.
func (r *run) reach(stage Stage) {
	now := time.Now()
	r.metrics.Stages[stage] = now.Sub(r.last)
	r.last = now
	r.emit(Event{Stage: stage})
}

// reachAfter records a stage that ran for d, for work done concurrently
// with other stages.
func (r *run) reachAfter(stage Stage, d time.Duration) {
	r.metrics.Stages[stage] = d
	r.last = time.Now()
	r.emit(Event{Stage: stage})
}

// fail records the failure and returns the error Process reports.
func (r *run) fail(stage Stage, err error) error {
	r.metrics.Failed = stage
	r.emit(Event{Stage: StageFailed, Failed: stage, Error: err.Error()})
	return &PipelineError{Stage: stage, Err: err}
}

func (r *run) emit(e Event) {
	e.SessionID = r.session
	e.Elapsed = time.Since(r.start)
	e.ElapsedMs = e.Elapsed.Milliseconds()
	for _, o := range r.observers {
		o(e)
	}
}

func (r *run) finish() Metrics {
	r.metrics.Total = time.Since(r.start)
	return r.metrics
}

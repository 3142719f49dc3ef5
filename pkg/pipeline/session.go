package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/teslashibe/go-phonic/pkg/artifact"
	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

// ErrNotSynthesized is returned when asking for audio of a category the
// pipeline does not synthesize.
var ErrNotSynthesized = errors.New("pipeline: category is not synthesized")

// History returns the session's turns in order.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]history.Turn, error) {
	if err := history.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return o.history.Read(ctx, sessionID)
}

// Clear removes the session's history and its audio artifacts.
func (o *Orchestrator) Clear(ctx context.Context, sessionID string) (bool, error) {
	if err := history.ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	cleared, err := o.history.Clear(ctx, sessionID)
	if err != nil {
		return false, err
	}

	var errs []error
	for _, c := range voice.Categories() {
		if err := o.artifacts.Delete(ctx, artifact.Key(sessionID, c)); err != nil {
			errs = append(errs, fmt.Errorf("delete %s audio: %w", c, err))
		}
	}
	return cleared, errors.Join(errs...)
}

// Audio opens the session's latest artifact for category.
func (o *Orchestrator) Audio(ctx context.Context, sessionID string, category voice.Category) (io.ReadCloser, int64, error) {
	if err := history.ValidateSessionID(sessionID); err != nil {
		return nil, 0, err
	}
	if !o.Synthesizes(category) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotSynthesized, category)
	}
	return o.artifacts.Open(ctx, artifact.Key(sessionID, category))
}

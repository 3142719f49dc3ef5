package pipeline

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-phonic/pkg/artifact"
)

// Status summarizes component health.
type Status string

const (
	StatusOperational Status = "operational"
	StatusDegraded    Status = "degraded"
)

// ComponentAvailable marks a healthy component in Health.Components.
const ComponentAvailable = "available"

// healthProbeKey is looked up to check that artifact storage answers.
const healthProbeKey = "health_probe.wav"

// Health is the result of a health check.
type Health struct {
	Status     Status            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health checks every backend concurrently. Loading the transcriber and
// model handles is part of the check, so the first call may be slow.
func (o *Orchestrator) Health(ctx context.Context) Health {
	var (
		mu    sync.Mutex
		comps = make(map[string]string, 4)
	)
	record := func(name string, err error) {
		status := ComponentAvailable
		if err != nil {
			status = "error: " + err.Error()
		}
		mu.Lock()
		comps[name] = status
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		tr, err := o.transcriber.Get(ctx)
		if err == nil {
			err = tr.Health(ctx)
		}
		record("transcriber", err)
		return nil
	})
	g.Go(func() error {
		m, err := o.model.Get(ctx)
		if err == nil {
			err = m.Health(ctx)
		}
		record("llm", err)
		return nil
	})
	g.Go(func() error {
		record("tts", o.synth.Health(ctx))
		return nil
	})
	g.Go(func() error {
		_, err := o.artifacts.Size(ctx, healthProbeKey)
		if errors.Is(err, artifact.ErrNotFound) {
			err = nil
		}
		record("storage", err)
		return nil
	})
	_ = g.Wait()

	h := Health{Status: StatusOperational, Components: comps}
	for _, s := range comps {
		if s != ComponentAvailable {
			h.Status = StatusDegraded
			break
		}
	}
	return h
}

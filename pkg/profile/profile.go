// Package profile estimates a coarse speaker profile from recorded speech.
//
// The estimate only biases voice selection, so Estimate never fails: any
// decode or analysis problem yields the configured fallback profile.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/teslashibe/go-phonic/pkg/audiodec"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

// Defaults for the estimator.
const (
	DefaultThresholdHz = 150.0
	DefaultFallback    = voice.Low
	DefaultMaxDuration = 300 * time.Second
)

// ErrNoVoicedFrames is returned by Analyze when no frame carries pitch.
var ErrNoVoicedFrames = errors.New("profile: no voiced frames")

// Analysis is the result of pitch tracking one recording.
type Analysis struct {
	MedianHz float64
	Frames   int
	Voiced   int
	Profile  voice.Profile
}

// Estimator classifies recordings as low or high pitched.
type Estimator struct {
	threshold   float64
	fallback    voice.Profile
	maxDuration time.Duration
	logger      *slog.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithThreshold sets the median pitch separating low from high.
func WithThreshold(hz float64) Option {
	return func(e *Estimator) {
		if hz > 0 {
			e.threshold = hz
		}
	}
}

// WithFallback sets the profile returned when analysis fails.
func WithFallback(p voice.Profile) Option {
	return func(e *Estimator) {
		if p != "" {
			e.fallback = p
		}
	}
}

// WithMaxDuration caps how much audio is analyzed. Zero analyzes all of it.
func WithMaxDuration(d time.Duration) Option {
	return func(e *Estimator) { e.maxDuration = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// New creates an Estimator.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		threshold:   DefaultThresholdHz,
		fallback:    DefaultFallback,
		maxDuration: DefaultMaxDuration,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "profile")
	return e
}

// Fallback returns the profile used when analysis fails.
func (e *Estimator) Fallback() voice.Profile {
	return e.fallback
}

// Estimate returns the speaker profile for the recording at path.
func (e *Estimator) Estimate(ctx context.Context, path string) voice.Profile {
	a, err := e.Analyze(ctx, path)
	if err != nil {
		e.logger.Warn("profile estimation failed, using fallback",
			"error", err,
			"fallback", e.fallback,
		)
		return e.fallback
	}
	e.logger.Debug("profile estimated",
		"median_hz", a.MedianHz,
		"voiced", a.Voiced,
		"frames", a.Frames,
		"profile", a.Profile,
	)
	return a.Profile
}

// Analyze decodes the recording and classifies its median voiced pitch.
func (e *Estimator) Analyze(ctx context.Context, path string) (*Analysis, error) {
	pcm, err := audiodec.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	pcm.Truncate(e.maxDuration)
	pcm = pcm.Resample(audiodec.AnalysisRate)

	track, err := Track(ctx, pcm.Samples, pcm.SampleRate)
	if err != nil {
		return nil, err
	}

	voiced := make([]float64, 0, len(track))
	for _, hz := range track {
		if hz > 0 {
			voiced = append(voiced, hz)
		}
	}
	if len(voiced) == 0 {
		return nil, ErrNoVoicedFrames
	}

	a := &Analysis{
		MedianHz: Median(voiced),
		Frames:   len(track),
		Voiced:   len(voiced),
	}
	a.Profile = e.Classify(a.MedianHz)
	return a, nil
}

// Classify buckets a median pitch.
func (e *Estimator) Classify(medianHz float64) voice.Profile {
	if medianHz < e.threshold {
		return voice.Low
	}
	return voice.High
}

// Median returns the median of values, or 0 for none. values is not
// modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

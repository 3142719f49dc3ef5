package profile

import (
	"context"
	"math"
	"time"
)

// Pitch tracking parameters.
const (
	FrameLength = 40 * time.Millisecond
	FrameHop    = 10 * time.Millisecond

	MinPitchHz = 60.0
	MaxPitchHz = 400.0

	// Frames quieter than this RMS are unvoiced.
	minEnergy = 0.01

	// Normalized autocorrelation a frame needs to count as periodic.
	minPeriodicity = 0.3

	// Among peaks within this fraction of the best, the shortest lag wins.
	// Harmonic multiples of the period correlate almost as well.
	octaveTolerance = 0.9
)

// Track returns the pitch in Hz of each 40 ms frame, stepping 10 ms.
// Unvoiced frames are 0.
func Track(ctx context.Context, samples []float64, rate int) ([]float64, error) {
	frameLen := samplesIn(FrameLength, rate)
	hop := samplesIn(FrameHop, rate)
	if frameLen == 0 || hop == 0 || len(samples) < frameLen {
		return nil, nil
	}

	minLag := int(float64(rate) / MaxPitchHz)
	maxLag := int(float64(rate) / MinPitchHz)
	if maxLag >= frameLen {
		maxLag = frameLen - 1
	}

	n := (len(samples)-frameLen)/hop + 1
	out := make([]float64, n)
	frame := make([]float64, frameLen)
	corr := make([]float64, maxLag+1)

	for i := 0; i < n; i++ {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		copy(frame, samples[i*hop:i*hop+frameLen])
		out[i] = framePitch(frame, rate, minLag, maxLag, corr)
	}
	return out, nil
}

// framePitch estimates one frame's pitch by normalized autocorrelation.
// frame is modified.
func framePitch(frame []float64, rate, minLag, maxLag int, corr []float64) float64 {
	var mean float64
	for _, s := range frame {
		mean += s
	}
	mean /= float64(len(frame))

	var energy float64
	for i := range frame {
		frame[i] -= mean
		energy += frame[i] * frame[i]
	}
	if math.Sqrt(energy/float64(len(frame))) < minEnergy {
		return 0
	}

	best := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var num, e1, e2 float64
		for j := 0; j+lag < len(frame); j++ {
			num += frame[j] * frame[j+lag]
			e1 += frame[j] * frame[j]
			e2 += frame[j+lag] * frame[j+lag]
		}
		if e1 == 0 || e2 == 0 {
			corr[lag] = 0
			continue
		}
		corr[lag] = num / math.Sqrt(e1*e2)
		if corr[lag] > best {
			best = corr[lag]
		}
	}
	if best < minPeriodicity {
		return 0
	}

	for lag := minLag; lag <= maxLag; lag++ {
		if corr[lag] < octaveTolerance*best {
			continue
		}
		if isPeak(corr, lag, minLag, maxLag) {
			return refine(corr, lag, minLag, maxLag, rate)
		}
	}
	return 0
}

func isPeak(corr []float64, lag, minLag, maxLag int) bool {
	if lag > minLag && corr[lag-1] > corr[lag] {
		return false
	}
	if lag < maxLag && corr[lag+1] > corr[lag] {
		return false
	}
	return true
}

// refine interpolates the peak with a parabola through its neighbours.
func refine(corr []float64, lag, minLag, maxLag, rate int) float64 {
	pos := float64(lag)
	if lag > minLag && lag < maxLag {
		a, b, c := corr[lag-1], corr[lag], corr[lag+1]
		if d := a - 2*b + c; d != 0 {
			pos += 0.5 * (a - c) / d
		}
	}
	return float64(rate) / pos
}

func samplesIn(d time.Duration, rate int) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// Package audiodec decodes uploaded speech recordings into mono float
// samples for analysis.
//
// Supported containers: WAV (any PCM bit depth), MP3, Ogg/Opus, and raw
// G.711 mu-law/a-law at 8 kHz. Everything else returns
// ErrUnsupportedFormat; callers that only need a best-effort analysis
// treat that like any other decode failure.
package audiodec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AnalysisRate is the rate Decode resamples to when asked.
const AnalysisRate = 16000

var (
	// ErrUnsupportedFormat is returned for extensions with no decoder.
	ErrUnsupportedFormat = errors.New("audiodec: unsupported format")

	// ErrNoAudio is returned when a file decodes to zero samples.
	ErrNoAudio = errors.New("audiodec: no audio samples")
)

// PCM is decoded mono audio, samples in [-1, 1].
type PCM struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the length of the audio.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// Truncate drops samples beyond max. A zero max keeps everything.
func (p *PCM) Truncate(max time.Duration) {
	if max <= 0 {
		return
	}
	n := int(max.Seconds() * float64(p.SampleRate))
	if n < len(p.Samples) {
		p.Samples = p.Samples[:n]
	}
}

// Resample returns a copy of p at rate.
func (p *PCM) Resample(rate int) *PCM {
	return &PCM{Samples: Resample(p.Samples, p.SampleRate, rate), SampleRate: rate}
}

type decodeFunc func(f *os.File) (*PCM, error)

var decoders = map[string]decodeFunc{
	".wav":   decodeWAV,
	".wave":  decodeWAV,
	".mp3":   decodeMP3,
	".ogg":   decodeOpus,
	".opus":  decodeOpus,
	".ulaw":  decodeUlaw,
	".mulaw": decodeUlaw,
	".pcmu":  decodeUlaw,
	".alaw":  decodeAlaw,
	".pcma":  decodeAlaw,
}

// Supported reports whether path has an extension Decode understands.
func Supported(path string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// DecodeFile decodes the file at path, picking the decoder by extension.
func DecodeFile(path string) (*PCM, error) {
	dec, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pcm, err := dec(f)
	if err != nil {
		return nil, fmt.Errorf("audiodec: decode %s: %w", filepath.Base(path), err)
	}
	if len(pcm.Samples) == 0 {
		return nil, ErrNoAudio
	}
	return pcm, nil
}

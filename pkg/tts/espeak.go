package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	providerESpeak = "espeak"
	defaultESpeak  = "espeak-ng"

	// espeak-ng speaks 175 words per minute by default.
	espeakBaseWPM = 175
)

// ESpeak implements Provider by running the espeak-ng formant
// synthesizer, which writes a WAV file to stdout.
type ESpeak struct {
	config *Config
	logger *slog.Logger
}

// NewESpeak creates an espeak-ng provider.
func NewESpeak(opts ...Option) (*ESpeak, error) {
	cfg := DefaultConfig()
	cfg.Command = defaultESpeak
	cfg.OutputFormat = EncodingWAV
	cfg.Apply(opts...)

	return &ESpeak{
		config: cfg,
		logger: cfg.Logger.With("component", "tts.espeak"),
	}, nil
}

// Synthesize runs espeak-ng with the text on stdin.
func (e *ESpeak) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	voice := e.config.voice(req)
	if voice == "" {
		voice = req.Language
	}
	if voice == "" {
		voice = "en"
	}

	args := []string{"--stdout", "--stdin", "-v", voice}
	if e.config.Speed > 0 && e.config.Speed != 1.0 {
		args = append(args, "-s", strconv.Itoa(int(espeakBaseWPM*e.config.Speed)))
	}

	cmd := exec.CommandContext(ctx, e.config.Command, args...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, WrapError(providerESpeak, fmt.Errorf("%s: %s", e.config.Command, msg))
	}
	latency := time.Since(start).Milliseconds()

	e.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", stdout.Len(),
		"latency_ms", latency,
		"voice", voice,
	)

	return &AudioResult{
		Audio:     stdout.Bytes(),
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: 22050, Channels: 1, BitDepth: 16},
		CharCount: len(req.Text),
		LatencyMs: latency,
	}, nil
}

// Health checks that the executable is on PATH.
func (e *ESpeak) Health(ctx context.Context) error {
	if _, err := exec.LookPath(e.config.Command); err != nil {
		return WrapError(providerESpeak, err)
	}
	return nil
}

// Close does nothing.
func (e *ESpeak) Close() error {
	return nil
}

var _ Provider = (*ESpeak)(nil)

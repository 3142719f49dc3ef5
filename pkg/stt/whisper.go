package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-phonic/internal/httpc"
)

const providerWhisper = "whisper"

// DefaultWhisperURL is the default address of a whisper.cpp server.
const DefaultWhisperURL = "http://localhost:8080"

// Whisper transcribes through a whisper.cpp server (examples/server),
// which accepts a multipart upload at /inference.
type Whisper struct {
	config *Config
	http   *http.Client
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// NewWhisper creates a whisper.cpp server transcriber.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = DefaultWhisperURL
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.Logger = cfg.Logger.With("component", "stt.whisper")

	return &Whisper{config: cfg, http: httpc.ForModel(cfg.Timeout)}, nil
}

// Transcribe uploads the file to /inference.
func (w *Whisper) Transcribe(ctx context.Context, path string) (*Transcript, error) {
	start := time.Now()

	body, contentType, err := w.form(path)
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.BaseURL+"/inference", body)
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg)), Provider: providerWhisper}
	}

	var out whisperResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("decode response: %w", err))
	}
	// whisper.cpp reports some failures as 200 with an error field.
	if out.Error != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: out.Error, Provider: providerWhisper}
	}

	t := &Transcript{
		Text:      strings.TrimSpace(out.Text),
		Language:  out.Language,
		Duration:  time.Duration(out.Duration * float64(time.Second)),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if t.Language == "" {
		t.Language = w.config.Language
	}

	w.config.Logger.Debug("transcribed", "chars", len(t.Text), "latency_ms", t.LatencyMs)
	return t, nil
}

func (w *Whisper) form(path string) (io.Reader, string, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer fd.Close()

	var b bytes.Buffer
	mw := multipart.NewWriter(&b)

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, fd); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
	}
	if w.config.Language != "" {
		fields["language"] = w.config.Language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &b, mw.FormDataContentType(), nil
}

// Health probes the server root, which whisper.cpp serves as its UI.
func (w *Whisper) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.config.BaseURL+"/", nil)
	if err != nil {
		return WrapError(providerWhisper, err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return WrapError(providerWhisper, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status, Provider: providerWhisper}
	}
	return nil
}

// Close releases idle connections.
func (w *Whisper) Close() error {
	w.http.CloseIdleConnections()
	return nil
}

var _ Transcriber = (*Whisper)(nil)

package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-phonic/internal/backend"
	"github.com/teslashibe/go-phonic/internal/httpc"
)

// transport is the JSON-over-HTTP plumbing shared by Client and Ollama.
type transport struct {
	provider string
	baseURL  string
	apiKey   string
	config   *Config
	http     *http.Client
	retry    *backend.Retrier
	logger   *slog.Logger
}

func newTransport(provider string, cfg *Config) *transport {
	t := &transport{
		provider: provider,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		config:   cfg,
		http:     httpc.ForModel(cfg.Timeout),
		logger:   cfg.Logger.With("component", "inference."+provider),
	}
	t.retry = &backend.Retrier{
		Client:  t.http,
		Retries: cfg.MaxRetries,
		Delay:   cfg.RetryDelay,
		Wrap:    func(err error) error { return WrapError(provider, err) },
		Fail:    t.parseError,
		Logger:  t.logger,
	}
	return t
}

// postJSON sends payload and decodes a 200 body into out. 429 and 5xx
// answers are retried.
func (t *transport) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return WrapError(t.provider, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := t.retry.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(t.provider, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		t.authorize(req)
		return req, nil
	})
	if err != nil {
		return err
	}
	return t.decode(resp, out)
}

// getJSON performs a single GET and decodes a 200 body into out. A nil
// out discards the body.
func (t *transport) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return WrapError(t.provider, fmt.Errorf("create request: %w", err))
	}
	t.authorize(req)

	resp, err := t.http.Do(req)
	if err != nil {
		return WrapError(t.provider, err)
	}
	return t.decode(resp, out)
}

func (t *transport) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return t.parseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out); err != nil {
		return WrapError(t.provider, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (t *transport) authorize(req *http.Request) {
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
}

// parseError reads an error body. OpenAI answers {"error":{"message":...}}
// and Ollama {"error":"..."}; anything else is kept as text.
func (t *transport) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Provider:   t.provider,
	}

	root, err := sonic.Get(body, "error")
	if err != nil {
		return apiErr
	}
	if msg, err := root.Get("message").String(); err == nil && msg != "" {
		apiErr.Message = msg
		apiErr.Code, _ = root.Get("code").String()
	} else if plain, err := root.String(); err == nil && plain != "" {
		apiErr.Message = plain
	}
	return apiErr
}

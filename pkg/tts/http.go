package tts

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
)

// httpBackend is the request plumbing shared by the HTTP providers.
type httpBackend struct {
	provider string
	config   *Config
	client   *http.Client
	logger   *slog.Logger

	// header sets auth and content headers on every request.
	header func(*http.Request)

	// parseError turns a non-200 response into an error.
	parseError func(*http.Response) error
}

// fetch sends payload as JSON (nil sends no body) and returns the body of
// a 200 response. Transport failures, 429 and 5xx are retried.
func (b *httpBackend) fetch(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = sonic.Marshal(payload); err != nil {
			return nil, WrapError(b.provider, fmt.Errorf("marshal payload: %w", err))
		}
	}

	retry := &backend.Retrier{
		Client:  b.client,
		Retries: b.config.MaxRetries,
		Delay:   b.config.RetryDelay,
		Wrap:    func(err error) error { return WrapError(b.provider, err) },
		Fail:    b.parseError,
		Logger:  b.logger,
	}
	resp, err := retry.Do(ctx, func() (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, WrapError(b.provider, fmt.Errorf("create request: %w", err))
		}
		if b.header != nil {
			b.header(req)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.parseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(b.provider, fmt.Errorf("read response: %w", err))
	}
	return data, nil
}

// jsonError is a parseError for APIs that describe failures in a JSON
// body. message and code are paths into it, e.g. ("error", "message").
// A body without a message at that path is kept as text.
func jsonError(provider string, message, code []any) func(*http.Response) error {
	return func(resp *http.Response) error {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		e := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body)), Provider: provider}
		if len(message) == 0 {
			return e
		}
		node, err := sonic.Get(body, message...)
		if err != nil {
			return e
		}
		if msg, err := node.String(); err == nil && msg != "" {
			e.Message = msg
			if c, err := sonic.Get(body, code...); err == nil && len(code) > 0 {
				e.Code, _ = c.String()
			}
		}
		return e
	}
}

// plainError is a parseError for servers that answer with text.
func plainError(provider string) func(*http.Response) error {
	return jsonError(provider, nil, nil)
}

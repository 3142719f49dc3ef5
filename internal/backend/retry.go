// Package backend holds the plumbing shared by the model-server clients:
// retrying HTTP requests and failing over from one backend to the next.
package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Retryable reports whether a response status is worth sending again.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Retrier sends a request until it gets a response with a status that is
// not Retryable, or runs out of attempts.
type Retrier struct {
	Client *http.Client

	// Retries is the number of attempts after the first.
	Retries int

	// Delay before retry n is n*Delay.
	Delay time.Duration

	// Wrap annotates transport errors, usually with the provider name.
	Wrap func(error) error

	// Fail turns a retryable response into an error. It must not close
	// the body.
	Fail func(*http.Response) error

	Logger *slog.Logger
}

// Do builds a fresh request for every attempt with newReq. The returned
// response may carry any non-retryable status; checking it is up to the
// caller.
func (r *Retrier) Do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.Delay*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := r.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = r.wrap(err)
			r.logger().Warn("request failed", "attempt", attempt+1, "error", err)
			continue
		}

		if !Retryable(resp.StatusCode) {
			return resp, nil
		}
		lastErr = r.Fail(resp)
		resp.Body.Close()
		r.logger().Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return nil, lastErr
}

func (r *Retrier) wrap(err error) error {
	if r.Wrap == nil {
		return err
	}
	return r.Wrap(err)
}

func (r *Retrier) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

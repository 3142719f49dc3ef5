// Package httpc provides the shared HTTP clients used by the speech and
// language model backends. Use these instead of http.DefaultClient so every
// outbound call has a timeout.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	// ModelTimeout covers local model servers (whisper, ollama, coqui) that
	// may load weights on the first request.
	ModelTimeout = 5 * time.Minute
)

// Client is a shared HTTP client for short API calls.
var Client = NewClient(DefaultTimeout)

// NewClient creates a new HTTP client with the specified timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// ForModel returns a client sized for slow local model servers. A zero
// timeout selects ModelTimeout.
func ForModel(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = ModelTimeout
	}
	return NewClient(timeout)
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

package stt

import (
	"log/slog"
	"time"
)

// Config holds transcription backend configuration.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string

	// Timeout covers one request, including model load on first use.
	Timeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring backends.
type Option func(*Config)

// WithBaseURL sets the server URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the model name, e.g. "whisper-1" or "base.en".
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLanguage pins the spoken language. Empty lets the model detect it.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for English transcription.
func DefaultConfig() *Config {
	return &Config{
		Model:    "whisper-1",
		Language: "en",
		Timeout:  5 * time.Minute,
		Logger:   slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Package artifact stores synthesized audio.
//
// Artifacts are keyed "<session>_<category>.wav" and overwritten each
// turn, so a session only ever holds its latest reply per category. A
// turn writes under a staging key first and renames it over the live key
// once the turn is committed.
package artifact

import (
	"context"
	"errors"
	"io"

	"github.com/teslashibe/go-phonic/pkg/voice"
)

// ErrNotFound is returned for keys with no stored artifact.
var ErrNotFound = errors.New("artifact: not found")

// Locator identifies a stored artifact: a file path or a nats:// URL.
type Locator string

// Store persists audio artifacts.
type Store interface {
	// Put stores data under key, replacing any previous artifact.
	Put(ctx context.Context, key string, data []byte) (Locator, error)

	// Open returns a reader for the artifact and its size.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Size returns the stored size of the artifact.
	Size(ctx context.Context, key string) (int64, error)

	// Rename moves the artifact at from to to, replacing any artifact
	// already stored under to.
	Rename(ctx context.Context, from, to string) (Locator, error)

	// Delete removes the artifact. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Key returns the artifact key for a session's reply in category.
func Key(sessionID string, category voice.Category) string {
	return sessionID + "_" + string(category) + ".wav"
}

// StagingKey returns a key for a reply that is not yet committed. id
// keeps concurrent turns of one session apart.
func StagingKey(sessionID string, category voice.Category, id string) string {
	return sessionID + "_" + string(category) + "." + id + ".pending.wav"
}

// Package history stores the per-session log of coaching turns.
//
// A Store is append-only per session: turns are read back in insertion
// order, appended one at a time after a turn fully succeeds, and cleared
// explicitly. Reads never fail the caller; a missing or unreadable record
// is reported as an empty history. Writes do fail the caller, since a lost
// turn would silently corrupt what the user sees.
package history

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// DefaultWindow is the number of trailing turns used as model context.
const DefaultWindow = 3

// ErrInvalidSession is returned for session ids that cannot be used as a
// storage key.
var ErrInvalidSession = errors.New("history: invalid session id")

// Turn is one completed exchange. The JSON names match the on-disk
// conversation files.
type Turn struct {
	User           string `json:"user"`
	Coaching       string `json:"coaching"`
	Conversational string `json:"conversational"`
}

// Store is the conversation log contract.
type Store interface {
	// Read returns the session's turns in insertion order. Unknown sessions
	// and unreadable records yield an empty slice and a nil error.
	Read(ctx context.Context, sessionID string) ([]Turn, error)

	// Append adds one turn to the end of the session's log.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Clear removes the session's log. It returns true when the session
	// no longer has a record, including when it never had one.
	Clear(ctx context.Context, sessionID string) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// Window returns the last k turns. The result aliases turns.
func Window(turns []Turn, k int) []Turn {
	if k <= 0 {
		return nil
	}
	if len(turns) <= k {
		return turns
	}
	return turns[len(turns)-k:]
}

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateSessionID rejects ids that are empty, too long, or contain
// characters outside [A-Za-z0-9_-]. UUIDs always pass.
func ValidateSessionID(id string) error {
	if !sessionPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return nil
}

package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// maxAppendAttempts bounds optimistic-concurrency retries in KVStore.Append.
const maxAppendAttempts = 5

// KVStore keeps each session's turns as one JSON value in a NATS JetStream
// key-value bucket. Appends use the entry revision so two writers racing on
// the same session do not overwrite each other's turn.
type KVStore struct {
	kv     nats.KeyValue
	bucket string
	logger *slog.Logger
}

// NewKVStore creates the bucket if missing, or binds to the existing one.
func NewKVStore(js nats.JetStreamContext, bucket string, logger *slog.Logger) (*KVStore, error) {
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucket,
		Description: "Conversation turns per session.",
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("history: create kv bucket %q: %w", bucket, err)
		}
		kv, err = js.KeyValue(bucket)
		if err != nil {
			return nil, fmt.Errorf("history: bind kv bucket %q: %w", bucket, err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		kv:     kv,
		bucket: bucket,
		logger: logger.With("component", "history.kv", "bucket", bucket),
	}, nil
}

// Read returns the session's turns, degrading to an empty history on any
// lookup or decode failure.
func (s *KVStore) Read(_ context.Context, sessionID string) ([]Turn, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		s.logger.Warn("read with invalid session id", "session", sessionID)
		return []Turn{}, nil
	}

	turns, _, err := s.load(sessionID)
	if err != nil {
		s.logger.Warn("history unreadable, using empty history",
			"session", sessionID,
			"error", err,
		)
		return []Turn{}, nil
	}
	return turns, nil
}

// Append adds turn to the session entry.
func (s *KVStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		turns, rev, err := s.load(sessionID)
		if err != nil {
			var decodeErr *decodeError
			if !errors.As(err, &decodeErr) {
				return fmt.Errorf("history: load %q: %w", sessionID, err)
			}
			s.logger.Warn("history corrupted, starting fresh", "session", sessionID, "error", err)
			turns, rev = nil, decodeErr.revision
		}
		turns = append(turns, turn)

		data, err := sonic.Marshal(turns)
		if err != nil {
			return fmt.Errorf("history: marshal: %w", err)
		}

		if rev == 0 {
			_, err = s.kv.Create(sessionID, data)
		} else {
			_, err = s.kv.Update(sessionID, data, rev)
		}
		if err == nil {
			return nil
		}

		lastErr = err
		s.logger.Warn("concurrent append, retrying",
			"session", sessionID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return fmt.Errorf("history: append %q: %w", sessionID, lastErr)
}

// Clear deletes the session entry.
func (s *KVStore) Clear(_ context.Context, sessionID string) (bool, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	if err := s.kv.Purge(sessionID); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return false, fmt.Errorf("history: purge %q: %w", sessionID, err)
	}
	return true, nil
}

// Close is a no-op; the NATS connection is owned by the caller.
func (s *KVStore) Close() error {
	return nil
}

type decodeError struct {
	revision uint64
	err      error
}

func (e *decodeError) Error() string { return "decode turns: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// load returns the turns and the entry revision, 0 when the key is absent.
func (s *KVStore) load(sessionID string) ([]Turn, uint64, error) {
	entry, err := s.kv.Get(sessionID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return []Turn{}, 0, nil
		}
		return nil, 0, err
	}

	var turns []Turn
	if err := sonic.Unmarshal(entry.Value(), &turns); err != nil {
		return nil, entry.Revision(), &decodeError{revision: entry.Revision(), err: err}
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, entry.Revision(), nil
}

// Ensure KVStore implements Store
var _ Store = (*KVStore)(nil)

package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// FileStore keeps one JSON array file per session under a directory.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "history.file"),
	}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Read returns the session's turns. Decode and I/O errors are logged and
// reported as an empty history.
func (s *FileStore) Read(_ context.Context, sessionID string) ([]Turn, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		s.logger.Warn("read with invalid session id", "session", sessionID)
		return []Turn{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns, err := s.load(sessionID)
	if err != nil {
		s.logger.Warn("history unreadable, using empty history",
			"session", sessionID,
			"error", err,
		)
		return []Turn{}, nil
	}
	return turns, nil
}

// Append adds turn to the session file. A corrupted file is replaced by a
// history containing only the new turn.
func (s *FileStore) Append(_ context.Context, sessionID string, turn Turn) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns, err := s.load(sessionID)
	if err != nil {
		s.logger.Warn("history unreadable, starting fresh",
			"session", sessionID,
			"error", err,
		)
		turns = nil
	}
	turns = append(turns, turn)

	data, err := sonic.ConfigStd.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	// Write to temp file first, then rename (atomic write)
	path := s.path(sessionID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: rename: %w", err)
	}

	s.logger.Debug("turn appended", "session", sessionID, "turns", len(turns))
	return nil
}

// Clear deletes the session file.
func (s *FileStore) Clear(_ context.Context, sessionID string) (bool, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("history: remove: %w", err)
	}
	return true, nil
}

// Close is a no-op for files.
func (s *FileStore) Close() error {
	return nil
}

// load reads the session file. A missing file is an empty history.
func (s *FileStore) load(sessionID string) ([]Turn, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Turn{}, nil
		}
		return nil, err
	}

	var turns []Turn
	if err := sonic.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(s.path(sessionID)), err)
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}

// Ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

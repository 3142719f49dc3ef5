package web

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

func removeQuietly(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("remove upload", "path", path, "error", err)
	}
}

package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediapub/internal/logging"
)

// CleanResult contains the outcome of a directory sweep.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanOrphaned removes package directories under root whose id is not in
// active and whose modification time is older than minAge. Entries that are
// not named after a package id are left alone.
func CleanOrphaned(ctx context.Context, root string, active map[string]struct{}, minAge time.Duration, logger *zap.Logger) CleanResult {
	result := CleanResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	root = strings.TrimSpace(root)
	if root == "" {
		return result
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-minAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		if _, ok := active[entry.Name()]; ok {
			continue
		}

		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logger.Warn("failed to remove orphaned package directory",
				zap.String(logging.FieldPath, dirPath),
				zap.Error(err),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed orphaned package directory",
			zap.String(logging.FieldPath, dirPath),
			zap.Duration("age", time.Since(info.ModTime())),
		)
	}
	return result
}

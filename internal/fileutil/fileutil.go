package fileutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/renameio/v2"
)

// CopyFile copies src to dst atomically with default permissions (0o644).
func CopyFile(ctx context.Context, src, dst string) (int64, error) {
	return CopyFileMode(ctx, src, dst, 0o644)
}

// CopyFileMode streams src into a pending file next to dst and renames it into
// place once the copy completes. A partially written dst is never visible.
func CopyFileMode(ctx context.Context, src, dst string, mode os.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}
	out, err := renameio.NewPendingFile(dst, renameio.WithPermissions(mode))
	if err != nil {
		return 0, fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		_ = out.Cleanup()
	}()

	written, err := io.Copy(out, &contextReader{ctx: ctx, r: in})
	if err != nil {
		return written, err
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return written, fmt.Errorf("replace destination: %w", err)
	}
	return written, nil
}

// CopyFileVerified copies src to dst atomically with SHA256 + size integrity
// verification. dst is left untouched on mismatch.
func CopyFileVerified(ctx context.Context, src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	out, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		_ = out.Cleanup()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(&contextReader{ctx: ctx, r: in}, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if written != srcSize {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return out.CloseAtomicallyReplace()
}

// MoveFile renames src to dst, falling back to a verified copy plus removal
// when the two paths live on different filesystems.
func MoveFile(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := CopyFileVerified(ctx, src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return renameio.WriteFile(path, data, mode)
}

// RemoveEmptyDirs removes empty directories below root, deepest first.
// root itself is kept.
func RemoveEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := os.Remove(dirs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

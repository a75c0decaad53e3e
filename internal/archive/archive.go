// Package archive unpacks package tarballs, optionally gzip or zstd
// compressed, into a working directory.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the outer compression of a tarball.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// ErrUnsupported is returned for file names that are not recognised tarballs.
var ErrUnsupported = errors.New("unsupported archive format")

// Detect infers the compression from the file name.
func Detect(path string) (Compression, error) {
	lower := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(lower, ".tar"):
		return CompressionNone, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return CompressionGzip, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
}

// IsArchive reports whether path names a supported tarball.
func IsArchive(path string) bool {
	_, err := Detect(path)
	return err == nil
}

// Extract unpacks src into dst. dst is emptied first so a retried extraction
// never sees leftovers from an interrupted attempt. Entries escaping dst,
// links, and device nodes are rejected.
func Extract(ctx context.Context, src, dst string) ([]string, error) {
	compression, err := Detect(src)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	switch compression {
	case CompressionGzip:
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	case CompressionZstd:
		zr, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	if err := os.RemoveAll(dst); err != nil {
		return nil, fmt.Errorf("clear extraction directory: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}

	root, err := filepath.Abs(dst)
	if err != nil {
		return nil, fmt.Errorf("resolve extraction directory: %w", err)
	}

	var extracted []string
	tr := tar.NewReader(reader)
	for {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("read archive entry: %w", err)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return extracted, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return extracted, fmt.Errorf("create %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.Size); err != nil {
				return extracted, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			rel, _ := filepath.Rel(root, target)
			extracted = append(extracted, filepath.ToSlash(rel))
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
		default:
			return extracted, fmt.Errorf("archive entry %s: unsupported type %q", hdr.Name, hdr.Typeflag)
		}
	}
	return extracted, nil
}

func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return filepath.Join(root, cleaned), nil
}

func writeEntry(target string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, r, size); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

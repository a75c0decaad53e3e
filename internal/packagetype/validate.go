package packagetype

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"mediapub/internal/store"
)

// ErrInvalidPackage tags every validation failure.
var ErrInvalidPackage = errors.New("invalid package")

// Validate checks an extracted package directory against the rules of its
// type and returns the manifest describing it.
func Validate(dir string, t Type, title string) (*Manifest, error) {
	switch t.Variant {
	case store.PackageTypeArchive:
		return validateArchive(dir, t.Version)
	case store.PackageTypeVideo:
		return validateVideo(dir, title)
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidPackage, t.Variant)
	}
}

func validateArchive(dir string, version Version) (*Manifest, error) {
	manifest, err := LoadManifest(dir, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPackage, err)
	}
	if len(manifest.Medias) == 0 {
		return nil, fmt.Errorf("%w: manifest lists no media", ErrInvalidPackage)
	}
	for _, media := range manifest.Medias {
		if err := checkVideo(dir, media.File); err != nil {
			return nil, err
		}
	}
	for _, tc := range manifest.Timecodes {
		if tc.Time < 0 {
			return nil, fmt.Errorf("%w: negative timecode %v", ErrInvalidPackage, tc.Time)
		}
		if tc.Image == "" {
			continue
		}
		if _, err := safeStat(dir, tc.Image); err != nil {
			return nil, fmt.Errorf("%w: timecode image %s: %w", ErrInvalidPackage, tc.Image, err)
		}
	}
	return manifest, nil
}

func validateVideo(dir, title string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPackage, err)
	}
	var videos []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			videos = append(videos, entry.Name())
		}
	}
	if len(videos) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one media file, found %d", ErrInvalidPackage, len(videos))
	}
	if err := checkVideo(dir, videos[0]); err != nil {
		return nil, err
	}
	return VideoManifest(title, videos[0]), nil
}

func checkVideo(dir, rel string) error {
	path, err := safeStat(dir, rel)
	if err != nil {
		return fmt.Errorf("%w: media %s: %w", ErrInvalidPackage, rel, err)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("%w: sniff %s: %w", ErrInvalidPackage, rel, err)
	}
	if !strings.HasPrefix(mtype.String(), "video/") {
		return fmt.Errorf("%w: %s is %s, not a video", ErrInvalidPackage, rel, mtype.String())
	}
	return nil
}

func safeStat(dir, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("path escapes package")
	}
	path := filepath.Join(dir, cleaned)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("is a directory")
	}
	return path, nil
}

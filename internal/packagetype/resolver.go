package packagetype

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediapub/internal/archive"
	"mediapub/internal/store"
)

// Version is the archive manifest format version.
type Version int

const (
	VersionUnknown Version = 0
	VersionV1      Version = 1
	VersionV2      Version = 2
)

// Marker files, newest format first.
const (
	MarkerV2 = "metadata.json"
	MarkerV1 = "synchro.xml"
)

var markers = []struct {
	name    string
	version Version
}{
	{MarkerV2, VersionV2},
	{MarkerV1, VersionV1},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".m4v": {}, ".mov": {}, ".mkv": {}, ".webm": {},
	".avi": {}, ".mpg": {}, ".mpeg": {}, ".ts": {},
}

// ErrUnknownVariant is returned for files that are neither tarballs nor videos.
var ErrUnknownVariant = errors.New("unsupported package file")

// ErrNoMarker is returned when an extracted archive carries no manifest marker.
var ErrNoMarker = errors.New("no package manifest marker found")

// Type is the resolved processing type of a package.
type Type struct {
	Variant store.PackageType
	Version Version
}

// VariantFor selects the package variant from the file name.
func VariantFor(path string) (store.PackageType, error) {
	if archive.IsArchive(path) {
		return store.PackageTypeArchive, nil
	}
	if IsVideo(path) {
		return store.PackageTypeVideo, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownVariant, filepath.Base(path))
}

// IsVideo reports whether path has a known video extension.
func IsVideo(path string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Supported reports whether path can become a package.
func Supported(path string) bool {
	_, err := VariantFor(path)
	return err == nil
}

// ResolveVersion inspects an extracted archive directory for manifest markers.
func ResolveVersion(dir string) (Version, error) {
	for _, marker := range markers {
		info, err := os.Stat(filepath.Join(dir, marker.name))
		if err == nil && !info.IsDir() {
			return marker.version, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return VersionUnknown, fmt.Errorf("stat %s: %w", marker.name, err)
		}
	}
	return VersionUnknown, fmt.Errorf("%w in %s (expected %s or %s)", ErrNoMarker, dir, MarkerV2, MarkerV1)
}

// Resolve combines variant and version detection. Video packages have no
// manifest version.
func Resolve(originalPath, extractedDir string) (Type, error) {
	variant, err := VariantFor(originalPath)
	if err != nil {
		return Type{}, err
	}
	if variant == store.PackageTypeVideo {
		return Type{Variant: variant}, nil
	}
	version, err := ResolveVersion(extractedDir)
	if err != nil {
		return Type{}, err
	}
	return Type{Variant: variant, Version: version}, nil
}

// LogicalName derives the merge name of a file: its base name without any
// archive or video extension.
func LogicalName(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, suffix := range []string{".tar.gz", ".tar.zst"} {
		if strings.HasSuffix(lower, suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

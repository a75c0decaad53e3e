// Package mediatools wraps the ffmpeg and ffprobe invocations used by the
// optional pipeline steps: thumbnail extraction, MP4 defragmentation and
// metadata probing.
package mediatools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mediapub/internal/logging"
	"mediapub/internal/media/ffprobe"
)

// Toolkit is the media tooling the workflow depends on.
type Toolkit interface {
	Thumbnail(ctx context.Context, src, dst string, offsetSeconds float64) error
	Defragment(ctx context.Context, src string) error
	Probe(ctx context.Context, path string) (ffprobe.Result, error)
}

// CommandRunner executes a binary and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpeg implements Toolkit with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	run     CommandRunner
	logger  *zap.Logger
}

// New constructs an FFmpeg toolkit. Empty binary names resolve from PATH.
func New(ffmpegBinary, ffprobeBinary string, logger *zap.Logger) *FFmpeg {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FFmpeg{
		ffmpeg:  ffmpegBinary,
		ffprobe: ffprobeBinary,
		run:     defaultCommandRunner,
		logger:  logging.Component(logger, "mediatools"),
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (f *FFmpeg) WithCommandRunner(r CommandRunner) {
	if f != nil && r != nil {
		f.run = r
	}
}

// Thumbnail grabs a single JPEG frame at offsetSeconds into dst.
func (f *FFmpeg) Thumbnail(ctx context.Context, src, dst string, offsetSeconds float64) error {
	if offsetSeconds < 0 {
		offsetSeconds = 0
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create thumbnail directory: %w", err)
	}
	tmp := dst + ".part.jpg"
	defer os.Remove(tmp)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(offsetSeconds, 'f', 3, 64),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "3",
		tmp,
	}
	if _, err := f.run(ctx, f.ffmpeg, args...); err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w", err)
	}
	if _, err := os.Stat(tmp); err != nil {
		return fmt.Errorf("ffmpeg thumbnail: no frame written at %.3fs", offsetSeconds)
	}
	return os.Rename(tmp, dst)
}

// Defragment rewrites an MP4 in place with its index moved to the front,
// stream-copying all tracks.
func (f *FFmpeg) Defragment(ctx context.Context, src string) error {
	tmp := strings.TrimSuffix(src, filepath.Ext(src)) + ".defrag" + filepath.Ext(src)
	defer os.Remove(tmp)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-map", "0",
		"-c", "copy",
		"-movflags", "+faststart",
		tmp,
	}
	if _, err := f.run(ctx, f.ffmpeg, args...); err != nil {
		return fmt.Errorf("ffmpeg defragment: %w", err)
	}
	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("ffmpeg defragment: output missing: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("ffmpeg defragment: empty output")
	}
	f.logger.Debug("mp4 defragmented", zap.String(logging.FieldPath, src), zap.Int64("size", info.Size()))
	return os.Rename(tmp, src)
}

// Probe inspects path with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	return ffprobe.Inspect(ctx, f.ffprobe, path)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

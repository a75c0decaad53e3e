package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string            `json:"filename"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	FormatName string            `json:"format_name"`
	Tags       map[string]string `json:"tags"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return Parse(output)
}

// Parse decodes raw ffprobe JSON output.
func Parse(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// VideoHeights returns the distinct heights of all video streams, ascending.
func (r Result) VideoHeights() []int {
	seen := make(map[int]struct{})
	var heights []int
	for _, stream := range r.Streams {
		if !strings.EqualFold(stream.CodecType, "video") || stream.Height <= 0 {
			continue
		}
		if _, ok := seen[stream.Height]; ok {
			continue
		}
		seen[stream.Height] = struct{}{}
		heights = append(heights, stream.Height)
	}
	sort.Ints(heights)
	return heights
}

// MaxHeight returns the tallest video stream height, or 0 without video.
func (r Result) MaxHeight() int {
	heights := r.VideoHeights()
	if len(heights) == 0 {
		return 0
	}
	return heights[len(heights)-1]
}

// DurationSeconds returns the container duration, falling back to the
// longest stream duration. Returns 0 when neither is usable.
func (r Result) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	var longest float64
	for _, stream := range r.Streams {
		if d := parseFloat(stream.Duration); d > longest {
			longest = d
		}
	}
	return longest
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if size <= 0 {
		return 0
	}
	return int64(size)
}

// IsMP4 reports whether the container belongs to the ISO BMFF family.
func (r Result) IsMP4() bool {
	for _, name := range strings.Split(r.Format.FormatName, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "mp4", "mov", "m4a", "3gp", "3g2", "mj2":
			return true
		}
	}
	return false
}

// Title returns the container title tag, if any.
func (r Result) Title() string {
	for key, value := range r.Format.Tags {
		if strings.EqualFold(key, "title") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return parsed
}

package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const maxLineBytes = 1024 * 1024

// fallbackPoll bounds how long Follow sleeps when no event arrives.
const fallbackPoll = 2 * time.Second

// Filter keeps lines containing Match; an empty Match keeps everything.
type Filter struct {
	Match string
}

func (f Filter) keep(line string) bool {
	return f.Match == "" || strings.Contains(line, f.Match)
}

// TailResult holds the selected lines and the offset just past them.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail returns the last limit lines of path that pass filter. A missing file
// yields an empty result.
func Tail(path string, limit int, filter Filter) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return TailResult{Offset: info.Size()}, nil
	}

	ring := make([]string, limit)
	count, idx := 0, 0
	offset, err := scanLines(file, func(line string) {
		if !filter.keep(line) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return TailResult{}, err
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// ReadFrom returns the complete lines written after offset. When the file
// shrank below offset it is read from the start.
func ReadFrom(path string, offset int64, filter Filter) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	read, err := scanLines(file, func(line string) {
		if filter.keep(line) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return TailResult{Offset: offset}, err
	}
	return TailResult{Lines: lines, Offset: offset + read}, nil
}

// Follow emits lines appended to path after offset until ctx ends.
func Follow(ctx context.Context, path string, offset int64, filter Filter, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch log file: %w", err)
	}
	defer watcher.Close()
	// The directory is watched so rotation and late creation are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	timer := time.NewTimer(fallbackPoll)
	defer timer.Stop()
	for {
		result, err := ReadFrom(path, offset, filter)
		if err != nil {
			return err
		}
		offset = result.Offset
		for _, line := range result.Lines {
			emit(line)
		}

		timer.Reset(fallbackPoll)
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Create) {
					offset = 0
				}
				break wait
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watch log file: %w", err)
			case <-timer.C:
				break wait
			}
		}
	}
}

// scanLines feeds every complete line to fn and returns the bytes consumed.
// A trailing partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}

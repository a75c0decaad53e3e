package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediapub/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediapub.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	result, err := logs.Tail(path, 2, logs.Filter{})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset 6, got %d", result.Offset)
	}
}

func TestTailFiltersAndLeavesPartialLine(t *testing.T) {
	path := writeLog(t, "pkg-1 copying\npkg-2 copying\npkg-1 ready\npkg-1 partial")

	result, err := logs.Tail(path, 10, logs.Filter{Match: "pkg-1"})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[1] != "pkg-1 ready" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}

	appendLog(t, path, " done\n")
	next, err := logs.ReadFrom(path, result.Offset, logs.Filter{})
	if err != nil {
		t.Fatalf("read from: %v", err)
	}
	if len(next.Lines) != 1 || next.Lines[0] != "pkg-1 partial done" {
		t.Fatalf("unexpected continuation: %#v", next.Lines)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(filepath.Join(t.TempDir(), "absent.log"), 5, logs.Filter{})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestReadFromRestartsAfterTruncation(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\n")
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatalf("truncate log: %v", err)
	}
	result, err := logs.ReadFrom(path, 14, logs.Filter{})
	if err != nil {
		t.Fatalf("read from: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "fresh" {
		t.Fatalf("unexpected lines %#v", result.Lines)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	initial, err := logs.Tail(path, 1, logs.Filter{})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, initial.Offset, logs.Filter{}, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
			select {
			case received <- struct{}{}:
			default:
			}
		})
	}()

	time.Sleep(100 * time.Millisecond)
	appendLog(t, path, "later\n")

	select {
	case <-received:
	case <-time.After(10 * time.Second):
		t.Fatal("follow did not emit the appended line")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("follow returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "later" {
		t.Fatalf("unexpected lines %#v", got)
	}
}

package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mediapub/internal/logging"
)

type stamp struct {
	size int64
	mod  time.Time
}

func (s stamp) equal(o stamp) bool {
	return s.size == o.size && s.mod.Equal(o.mod)
}

type candidate struct {
	stamp
	folder string
	since  time.Time
}

// tracker is owned by the run goroutine once Start returns.
type tracker struct {
	w        *Watcher
	fsw      *fsnotify.Watcher
	pending  map[string]*candidate
	reported map[string]struct{}
}

func (t *tracker) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			t.handle(ev)
		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			t.w.reportError(err)
		case <-ticker.C:
			if !t.settle(ctx) {
				return
			}
		}
	}
}

// addTree watches root and every visible directory below it, queueing the
// files already present.
func (t *tracker) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			t.w.reportError(err)
			return nil
		}
		if path != root && ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return t.fsw.Add(path)
		}
		t.observe(path)
		return nil
	})
}

func (t *tracker) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if ignored(filepath.Base(path)) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		t.forget(path)
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := t.addTree(path); err != nil {
				t.w.reportError(err)
			}
			return
		}
		delete(t.reported, path)
		t.observe(path)
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod):
		t.observe(path)
	}
}

// observe queues path or restarts its quiet period.
func (t *tracker) observe(path string) {
	if _, done := t.reported[path]; done {
		return
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if t.w.accept != nil && !t.w.accept(path) {
		return
	}
	now := time.Now()
	current := stamp{size: info.Size(), mod: info.ModTime()}
	if c, ok := t.pending[path]; ok {
		if !c.equal(current) {
			c.stamp = current
			c.since = now
		}
		return
	}
	t.pending[path] = &candidate{stamp: current, folder: t.folderFor(path), since: now}
}

func (t *tracker) forget(path string) {
	prefix := path + string(filepath.Separator)
	for p := range t.pending {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(t.pending, p)
		}
	}
	for p := range t.reported {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(t.reported, p)
		}
	}
}

// settle reports the pending files whose size and mtime held still for the
// stability window. It returns false when ctx ended during delivery.
func (t *tracker) settle(ctx context.Context) bool {
	now := time.Now()
	for path, c := range t.pending {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			delete(t.pending, path)
			continue
		}
		current := stamp{size: info.Size(), mod: info.ModTime()}
		if !c.equal(current) {
			c.stamp = current
			c.since = now
			continue
		}
		if now.Sub(c.since) < t.w.window {
			continue
		}
		delete(t.pending, path)
		t.reported[path] = struct{}{}
		t.w.logger.Debug("file stable", zap.String(logging.FieldPath, path), zap.Int64("size", current.size))
		select {
		case t.w.files <- File{Path: path, Folder: c.folder}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (t *tracker) folderFor(path string) string {
	best := ""
	for _, folder := range t.w.folders {
		root := filepath.Clean(folder.Path)
		if (path == root || strings.HasPrefix(path, root+string(filepath.Separator))) && len(root) > len(best) {
			best = root
		}
	}
	return best
}

// ignored reports hidden and temporary names.
func ignored(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") || strings.HasSuffix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".part", ".partial", ".crdownload", ".swp":
		return true
	}
	return false
}

package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mediapub/internal/config"
	"mediapub/internal/failure"
	"mediapub/internal/logging"
)

const (
	defaultStabilityWindow = 2 * time.Second
	defaultPollInterval    = 500 * time.Millisecond
	streamBuffer           = 64
)

// File is a write-stable file found in a hot folder.
type File struct {
	Path   string
	Folder string
}

// Options tunes a Watcher.
type Options struct {
	// StabilityWindow is how long size and mtime must stay unchanged.
	StabilityWindow time.Duration
	// PollInterval is how often pending files are re-checked.
	PollInterval time.Duration
	// Accept filters candidate paths; nil accepts every regular file.
	Accept func(path string) bool
	Logger *zap.Logger
}

// Watcher reports stable files appearing under a set of hot folders.
type Watcher struct {
	folders []config.HotFolder
	window  time.Duration
	poll    time.Duration
	accept  func(string) bool
	logger  *zap.Logger

	statuses chan Status
	files    chan File
	errs     chan error

	mu      sync.Mutex
	status  Status
	running bool
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a stopped watcher over folders.
func New(folders []config.HotFolder, opts Options) *Watcher {
	window := opts.StabilityWindow
	if window <= 0 {
		window = defaultStabilityWindow
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Watcher{
		folders:  append([]config.HotFolder(nil), folders...),
		window:   window,
		poll:     poll,
		accept:   opts.Accept,
		logger:   logging.Component(opts.Logger, "watcher"),
		statuses: make(chan Status, streamBuffer),
		files:    make(chan File, streamBuffer),
		errs:     make(chan error, streamBuffer),
		status:   StatusStopped,
	}
}

// NewFromConfig builds a watcher over the configured hot folders.
func NewFromConfig(cfg *config.Config, accept func(string) bool, logger *zap.Logger) *Watcher {
	return New(cfg.Watcher.HotFolders, Options{
		StabilityWindow: cfg.StabilityWindow(),
		PollInterval:    cfg.PollInterval(),
		Accept:          accept,
		Logger:          logger,
	})
}

// Statuses streams every status change.
func (w *Watcher) Statuses() <-chan Status { return w.statuses }

// Files streams stable files.
func (w *Watcher) Files() <-chan File { return w.files }

// Errors streams observation failures.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Status returns the current status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Start validates the folders, registers the watches and scans the existing
// content. STARTED is emitted once the scan is done. Calling Start on a
// running watcher does nothing.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if len(w.folders) == 0 {
		return failure.New(failure.KindWatcher, failure.CodeInvalidConfiguration, "no hot folders configured")
	}
	for _, folder := range w.folders {
		info, err := os.Stat(folder.Path)
		if err != nil {
			return failure.Wrap(failure.KindWatcher, failure.CodeInvalidConfiguration, "hot folder "+folder.Path, err)
		}
		if !info.IsDir() {
			return failure.Newf(failure.KindWatcher, failure.CodeInvalidConfiguration, "hot folder %s is not a directory", folder.Path)
		}
	}

	w.setStatus(StatusStarting)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.setStatus(StatusStopped)
		return fmt.Errorf("create fs watcher: %w", err)
	}
	t := &tracker{
		w:        w,
		fsw:      fsw,
		pending:  make(map[string]*candidate),
		reported: make(map[string]struct{}),
	}
	for _, folder := range w.folders {
		if err := t.addTree(folder.Path); err != nil {
			_ = fsw.Close()
			w.setStatus(StatusStopped)
			return failure.Wrap(failure.KindWatcher, failure.CodeInvalidConfiguration, "watch "+folder.Path, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go t.run(runCtx, w.done)

	w.logger.Info("watcher started", zap.Int("folders", len(w.folders)), zap.Int("pending", len(t.pending)))
	w.setStatus(StatusStarted)
	return nil
}

// Stop closes the observation and reports STOPPED. Stopping a stopped
// watcher does nothing.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.setStatus(StatusStopping)
	w.cancel()
	err := w.fsw.Close()
	<-w.done
	w.running = false
	w.fsw = nil
	w.cancel = nil
	w.setStatus(StatusStopped)
	w.logger.Info("watcher stopped")
	if err != nil {
		return fmt.Errorf("close fs watcher: %w", err)
	}
	return nil
}

// setStatus must be called with w.mu held.
func (w *Watcher) setStatus(status Status) {
	w.status = status
	select {
	case w.statuses <- status:
	default:
		w.logger.Warn("status event dropped", zap.Stringer("status", status))
	}
}

func (w *Watcher) reportError(err error) {
	if err == nil {
		return
	}
	var ferr *failure.Error
	if !errors.As(err, &ferr) {
		err = failure.Wrap(failure.KindWatcher, failure.CodeNone, "observe hot folders", err)
	}
	w.logger.Warn("watcher error", zap.Error(err))
	select {
	case w.errs <- err:
	default:
		w.logger.Warn("watcher error dropped")
	}
}

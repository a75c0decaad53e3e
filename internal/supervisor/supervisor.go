// Package supervisor runs the hot-folder watcher in a separate worker
// process and exposes its control operations.
//
// The supervisor mirrors the worker's watcher status from the messages the
// worker sends and from its exit, never setting it on its own. Commands are
// answered once the worker acknowledges them; acknowledgements are matched
// first in, first out per action. Stopping the watcher leaves the worker
// process running so packages in progress are never cut short; only
// Shutdown ends it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"mediapub/internal/config"
	"mediapub/internal/logging"
	"mediapub/internal/metrics"
	"mediapub/internal/watcher"
	"mediapub/internal/workerproto"
)

var (
	// ErrNotRunning is returned by commands when no worker is alive.
	ErrNotRunning = errors.New("watcher worker is not running")
	// ErrWorkerExited fails commands still waiting when the worker exits.
	ErrWorkerExited = errors.New("watcher worker exited")
)

// Options customises how the worker is launched.
type Options struct {
	// ConfigPath is forwarded to the worker with --config.
	ConfigPath string
	// Executable defaults to the running binary.
	Executable string
	// Args replaces the default worker arguments.
	Args []string
	// Env is appended to the inherited environment.
	Env     []string
	Logger  *zap.Logger
	Metrics *metrics.Pipeline
}

// Snapshot describes the supervised worker.
type Snapshot struct {
	Status    watcher.Status
	PID       int
	Restarts  int
	LastError string
}

type reply struct {
	msg workerproto.Message
	err error
}

// Supervisor owns the watcher worker process.
type Supervisor struct {
	cfg     *config.Config
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Pipeline

	grace        time.Duration
	ackTimeout   time.Duration
	restartDelay time.Duration
	maxRestarts  int

	mu           sync.Mutex
	status       watcher.Status
	changed      chan struct{}
	proc         *process
	pending      map[workerproto.Action][]chan reply
	restarts     int
	stopped      bool
	restartTimer *time.Timer
	lastError    string
}

// New builds a supervisor; no process is started.
func New(cfg *config.Config, opts Options) *Supervisor {
	seconds := func(v, fallback int) time.Duration {
		if v <= 0 {
			v = fallback
		}
		return time.Duration(v) * time.Second
	}
	return &Supervisor{
		cfg:          cfg,
		opts:         opts,
		logger:       logging.Component(opts.Logger, "supervisor"),
		metrics:      opts.Metrics,
		grace:        seconds(cfg.Supervisor.StopGrace, 10),
		ackTimeout:   seconds(cfg.Supervisor.AckTimeout, 30),
		restartDelay: time.Duration(max(cfg.Supervisor.RestartDelay, 0)) * time.Second,
		maxRestarts:  max(cfg.Supervisor.MaxRestarts, 0),
		status:       watcher.StatusStopped,
		changed:      make(chan struct{}),
		pending:      make(map[workerproto.Action][]chan reply),
	}
}

// Status returns the mirrored watcher status.
func (s *Supervisor) Status() watcher.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the status together with process details.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Status: s.status, Restarts: s.restarts, LastError: s.lastError}
	if s.proc != nil {
		snap.PID = s.proc.pid()
	}
	return snap
}

// Start spawns the worker, or asks a worker that is still running to resume
// watching, and waits until it reports STARTED. It does nothing when the
// watcher is already started.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	if p := s.proc; p != nil {
		started := s.status == watcher.StatusStarted
		s.mu.Unlock()
		if started {
			return nil
		}
		msg, err := s.command(ctx, workerproto.Start())
		if err != nil {
			return err
		}
		if err := msg.Err(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		return s.waitStatus(ctx, p, watcher.StatusStarted)
	}
	s.restarts = 0
	s.lastError = ""
	p, err := s.spawn()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.waitStatus(ctx, p, watcher.StatusStarted)
}

// waitStatus blocks until p reports want, p exits or the ack timeout ends.
func (s *Supervisor) waitStatus(ctx context.Context, p *process, want watcher.Status) error {
	ctx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()
	for {
		s.mu.Lock()
		status, changed := s.status, s.changed
		current := s.proc == p
		s.mu.Unlock()
		if current && status == want {
			return nil
		}
		select {
		case <-changed:
		case <-p.exited:
			return fmt.Errorf("%w before reporting %s: %v", ErrWorkerExited, want, p.exitErr())
		case <-ctx.Done():
			return fmt.Errorf("wait for watcher %s: %w", want, ctx.Err())
		}
	}
}

// Stop asks the worker to stop watching and waits for STOPPED. The worker
// process stays up and finishes the packages it is driving. A worker that
// does not answer within the grace period is terminated.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.cancelRestartLocked()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	msg, err := s.command(graceCtx, workerproto.Stop())
	if err == nil {
		if ackErr := msg.Err(); ackErr != nil {
			s.logger.Warn("worker reported a stop failure", zap.Error(ackErr))
		}
		err = s.waitStatus(graceCtx, p, watcher.StatusStopped)
	}
	if err == nil || errors.Is(err, ErrWorkerExited) || errors.Is(err, ErrNotRunning) {
		return nil
	}

	s.logger.Warn("worker ignored stop request; terminating", zap.Int("pid", p.pid()), zap.Error(err))
	s.mu.Lock()
	p.stopping = true
	s.mu.Unlock()
	return p.terminate(killGrace(s.grace))
}

// Shutdown ends the worker process. The worker stops watching, waits for
// the packages it is driving and exits once its input is closed. When ctx
// ends first the process group gets SIGTERM, then SIGKILL.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.cancelRestartLocked()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return nil
	}
	p.stopping = true
	s.mu.Unlock()

	if err := p.writer.Write(workerproto.Stop()); err != nil {
		s.logger.Debug("send stop", zap.Error(err))
	}
	_ = p.stdin.Close()

	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		s.logger.Warn("worker still draining at shutdown; terminating", zap.Int("pid", p.pid()))
	}
	return p.terminate(killGrace(s.grace))
}

// cancelRestartLocked must be called with s.mu held.
func (s *Supervisor) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func killGrace(grace time.Duration) time.Duration {
	return min(grace, 5*time.Second)
}

// Retry asks the worker to resume packages and returns the ids it
// scheduled.
func (s *Supervisor) Retry(ctx context.Context, ids []string) ([]string, error) {
	msg, err := s.command(ctx, workerproto.Retry(ids))
	if err != nil {
		return nil, err
	}
	return msg.IDs, msg.Err()
}

// Upload asks the worker to upload packages to platform.
func (s *Supervisor) Upload(ctx context.Context, ids []string, platform string) ([]string, error) {
	msg, err := s.command(ctx, workerproto.Upload(ids, platform))
	if err != nil {
		return nil, err
	}
	return msg.IDs, msg.Err()
}

func (s *Supervisor) command(ctx context.Context, msg workerproto.Message) (workerproto.Message, error) {
	ch := make(chan reply, 1)
	s.mu.Lock()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return workerproto.Message{}, ErrNotRunning
	}
	// Writing under the lock keeps the queue in send order.
	s.pending[msg.Action] = append(s.pending[msg.Action], ch)
	if err := p.writer.Write(msg); err != nil {
		queue := s.pending[msg.Action]
		s.pending[msg.Action] = queue[:len(queue)-1]
		s.mu.Unlock()
		return workerproto.Message{}, fmt.Errorf("send %s: %w", msg.Action, err)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		// The slot stays queued so later acknowledgements keep their order.
		return workerproto.Message{}, fmt.Errorf("wait for %s acknowledgement: %w", msg.Action, ctx.Err())
	}
}

// setStatus must be called with s.mu held.
func (s *Supervisor) setStatus(status watcher.Status) {
	if s.status == status {
		return
	}
	s.status = status
	close(s.changed)
	s.changed = make(chan struct{})
	s.metrics.SetWatcherStatus(int(status))
	s.logger.Info("watcher status", zap.Stringer("status", status))
}

func (s *Supervisor) handleMessage(p *process, msg workerproto.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p {
		return
	}
	switch {
	case msg.Status != "":
		if status, ok := watcher.ParseStatus(msg.Status); ok {
			s.setStatus(status)
		}
	case msg.Action != "":
		queue := s.pending[msg.Action]
		if len(queue) == 0 {
			return
		}
		s.pending[msg.Action] = queue[1:]
		queue[0] <- reply{msg: msg}
	case msg.Event == workerproto.EventNewFile:
		s.logger.Info("new file", zap.String(logging.FieldPath, msg.Path), zap.String(logging.FieldPackageID, msg.ID))
	case msg.Event == workerproto.EventError:
		s.lastError = msg.Error
		s.logger.Warn("worker reported an error", zap.String("error", msg.Error))
	}
}

func (s *Supervisor) handleExit(p *process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p {
		return
	}
	s.proc = nil
	s.setStatus(watcher.StatusStopped)
	for action, queue := range s.pending {
		for _, ch := range queue {
			ch <- reply{err: ErrWorkerExited}
		}
		delete(s.pending, action)
	}

	err := p.exitErr()
	if p.stopping || s.stopped {
		s.logger.Info("worker exited", zap.Error(err))
		return
	}
	if err != nil {
		s.lastError = err.Error()
	}
	s.logger.Warn("worker exited unexpectedly", zap.Error(err), zap.Int("restarts", s.restarts))
	if s.restarts >= s.maxRestarts {
		return
	}
	s.restarts++
	s.restartTimer = time.AfterFunc(s.restartDelay, s.restart)
}

func (s *Supervisor) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartTimer = nil
	if s.stopped || s.proc != nil {
		return
	}
	s.metrics.IncWorkerRestarts()
	if _, err := s.spawn(); err != nil {
		s.lastError = err.Error()
		s.logger.Error("restart worker", zap.Error(err))
	}
}

func (s *Supervisor) workerArgs() []string {
	if len(s.opts.Args) > 0 {
		return append([]string(nil), s.opts.Args...)
	}
	args := []string{
		"watcher-worker",
		"--root", s.cfg.Paths.WorkDir,
		"--database", s.cfg.DatabasePath(),
		"--anonymous-user", s.cfg.Supervisor.AnonymousUser,
	}
	if s.opts.ConfigPath != "" {
		args = append(args, "--config", s.opts.ConfigPath)
	}
	return args
}

func (s *Supervisor) executable() (string, error) {
	if s.opts.Executable != "" {
		return s.opts.Executable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return exe, nil
}

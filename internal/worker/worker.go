// Package worker is the runtime of the watcher worker process. It hosts the
// hot-folder watcher and the package workflow, and talks to the supervisor
// over stdin and stdout using workerproto messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediapub/internal/config"
	"mediapub/internal/logging"
	"mediapub/internal/packagetype"
	"mediapub/internal/platform"
	"mediapub/internal/platform/builtin"
	"mediapub/internal/store"
	"mediapub/internal/watcher"
	"mediapub/internal/workerproto"
	"mediapub/internal/workflow"
)

// Options configures a worker run.
type Options struct {
	Config *config.Config
	// DatabasePath overrides the configured store location.
	DatabasePath  string
	AnonymousUser string
	In            io.Reader
	Out           io.Writer
	Logger        *zap.Logger
	// Registry replaces the providers built from the configuration.
	Registry *platform.Registry
	// ManagerOptions are appended to the workflow manager options.
	ManagerOptions []workflow.Option
}

type worker struct {
	mgr       *workflow.Manager
	watch     *watcher.Watcher
	out       *workerproto.Writer
	logger    *zap.Logger
	anonymous string
}

// Run hosts the watcher and the workflow until stdin closes or ctx ends.
// Stop and start commands only toggle the watcher; once stdin closes the
// worker waits for every package in progress before it returns.
func Run(ctx context.Context, opts Options) error {
	if opts.Config == nil {
		return errors.New("worker requires configuration")
	}
	if opts.In == nil || opts.Out == nil {
		return errors.New("worker requires input and output streams")
	}
	cfg := opts.Config
	logger := logging.Component(opts.Logger, "worker")

	dbPath := opts.DatabasePath
	if dbPath == "" {
		dbPath = cfg.DatabasePath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry := opts.Registry
	if registry == nil {
		registry = builtin.NewRegistry()
		if err := registry.Build(cfg.Platforms, platform.Deps{Logger: logger}); err != nil {
			return fmt.Errorf("build platforms: %w", err)
		}
	}

	anonymous := opts.AnonymousUser
	if anonymous == "" {
		anonymous = cfg.Supervisor.AnonymousUser
	}

	mgrOpts := append([]workflow.Option{workflow.WithLogger(logger)}, opts.ManagerOptions...)
	w := &worker{
		mgr:       workflow.NewManager(cfg, st, registry, mgrOpts...),
		watch:     watcher.NewFromConfig(cfg, packagetype.Supported, logger),
		out:       workerproto.NewWriter(opts.Out),
		logger:    logger,
		anonymous: anonymous,
	}
	return w.run(ctx, workerproto.NewReader(opts.In))
}

func (w *worker) run(ctx context.Context, in *workerproto.Reader) error {
	if err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	defer w.mgr.Stop()

	if ids, err := w.mgr.Resume(ctx); err != nil {
		w.logger.Warn("resume interrupted packages", zap.Error(err))
		w.send(workerproto.Failure(err))
	} else if len(ids) > 0 {
		w.logger.Info("resumed packages", zap.Strings("ids", ids))
	}

	if err := w.watch.Start(ctx); err != nil {
		w.relayStatuses()
		w.send(workerproto.Failure(err))
		return fmt.Errorf("start watcher: %w", err)
	}

	commands := make(chan workerproto.Message)
	go readCommands(in, commands, ctx.Done(), w.logger)

	g, gctx := errgroup.WithContext(ctx)
	relayCtx, stopRelay := context.WithCancel(gctx)
	defer stopRelay()
	g.Go(func() error { return w.relay(relayCtx) })
	g.Go(func() error {
		defer stopRelay()
		w.handleCommands(ctx, gctx, commands)
		w.stopWatching()
		w.awaitIdle(ctx)
		return nil
	})
	err := g.Wait()
	w.relayStatuses()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// relay forwards watcher streams to the supervisor until ctx ends.
func (w *worker) relay(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case status := <-w.watch.Statuses():
			w.send(workerproto.StatusChange(status))
		case file := <-w.watch.Files():
			w.submit(ctx, file)
		case err := <-w.watch.Errors():
			w.send(workerproto.Failure(err))
		}
	}
}

func (w *worker) submit(ctx context.Context, file watcher.File) {
	pkg, err := w.mgr.Submit(ctx, file.Path, workflow.SubmitOptions{
		HotFolder: file.Folder,
		Uploader:  w.anonymous,
	})
	if errors.Is(err, workflow.ErrAlreadySubmitted) {
		w.logger.Debug("file already submitted",
			zap.String(logging.FieldPath, file.Path),
			zap.String(logging.FieldPackageID, pkg.ID))
		return
	}
	if err != nil {
		w.logger.Warn("submit package", zap.String(logging.FieldPath, file.Path), zap.Error(err))
		w.send(workerproto.Failure(fmt.Errorf("submit %s: %w", file.Path, err)))
		return
	}
	w.send(workerproto.NewFile(file.Path, pkg.ID))
}

// handleCommands acts on supervisor commands until the command stream
// closes or ctx ends. Work runs on root so it outlives the watcher.
func (w *worker) handleCommands(root, ctx context.Context, commands <-chan workerproto.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-commands:
			if !ok {
				w.logger.Info("supervisor closed the command stream")
				return
			}
			switch msg.Action {
			case workerproto.ActionRetry:
				ids, err := w.mgr.Retry(root, msg.IDs...)
				w.send(workerproto.Ack(workerproto.ActionRetry, ids, err))
			case workerproto.ActionUpload:
				ids, err := w.mgr.Upload(root, msg.IDs, msg.Platform)
				w.send(workerproto.Ack(workerproto.ActionUpload, ids, err))
			case workerproto.ActionStart:
				err := w.watch.Start(root)
				if err != nil {
					w.logger.Warn("restart watcher", zap.Error(err))
				}
				w.send(workerproto.Ack(workerproto.ActionStart, nil, err))
			case workerproto.ActionStop:
				w.logger.Info("stop requested", zap.Int("active", w.mgr.ActiveCount()))
				w.send(workerproto.Ack(workerproto.ActionStop, nil, w.stopWatching()))
			default:
				w.logger.Warn("ignoring message", zap.Any("message", msg))
			}
		}
	}
}

func (w *worker) stopWatching() error {
	err := w.watch.Stop()
	if err != nil {
		w.logger.Warn("stop watcher", zap.Error(err))
	}
	return err
}

// relayStatuses flushes status changes queued by the watcher.
func (w *worker) relayStatuses() {
	for {
		select {
		case status := <-w.watch.Statuses():
			w.send(workerproto.StatusChange(status))
		default:
			return
		}
	}
}

// awaitIdle waits for every package in progress. Only ctx ending cuts it
// short; those packages resume on the next start.
func (w *worker) awaitIdle(ctx context.Context) {
	if w.mgr.ActiveCount() > 0 {
		w.logger.Info("waiting for packages in progress", zap.Int("active", w.mgr.ActiveCount()))
	}
	if err := w.mgr.WaitIdle(ctx); err != nil {
		w.logger.Warn("packages still running at shutdown; they resume on next start",
			zap.Int("active", w.mgr.ActiveCount()))
	}
}

func (w *worker) send(msg workerproto.Message) {
	if err := w.out.Write(msg); err != nil {
		w.logger.Warn("write message", zap.Error(err))
	}
}

// readCommands pumps stdin into commands and closes it on EOF. It blocks in
// Read and ends with the process or its input stream.
func readCommands(in *workerproto.Reader, commands chan<- workerproto.Message, done <-chan struct{}, logger *zap.Logger) {
	defer close(commands)
	for {
		msg, err := in.Read()
		if errors.Is(err, workerproto.ErrMalformed) {
			logger.Warn("bad command", zap.Error(err))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("read commands", zap.Error(err))
			}
			return
		}
		select {
		case commands <- msg:
		case <-done:
			return
		}
	}
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"mediapub/internal/config"
	"mediapub/internal/deps"
	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/metrics"
	"mediapub/internal/notifications"
	"mediapub/internal/platform"
	"mediapub/internal/platform/builtin"
	"mediapub/internal/preflight"
	"mediapub/internal/staging"
	"mediapub/internal/store"
	"mediapub/internal/supervisor"
	"mediapub/internal/workflow"
)

const (
	countsRefreshInterval = 15 * time.Second
	orphanMinAge          = time.Hour
)

// WatcherController is the supervisor surface driven by the daemon.
type WatcherController interface {
	Start(ctx context.Context) error
	// Stop ends file detection only; packages in progress keep running.
	Stop(ctx context.Context) error
	// Shutdown ends the worker process when the daemon exits.
	Shutdown(ctx context.Context) error
	Retry(ctx context.Context, ids []string) ([]string, error)
	Upload(ctx context.Context, ids []string, platform string) ([]string, error)
	Snapshot() supervisor.Snapshot
}

// Options customises the collaborators built by New.
type Options struct {
	// ConfigPath is forwarded to the watcher worker.
	ConfigPath string
	// Registry replaces the registry built from the configured platforms.
	Registry *platform.Registry
	// Watcher replaces the process supervisor.
	Watcher WatcherController
	// Notifier replaces the service built from the notification settings.
	Notifier notifications.Service
}

// Daemon enforces single-instance execution and serves operator requests.
type Daemon struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	workflow *workflow.Manager
	registry *platform.Registry
	watcher  WatcherController
	auth     *Authorizer
	notifier notifications.Service

	promRegistry *prometheus.Registry
	metrics      *metrics.Pipeline
	httpServer   *httpServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Watcher      supervisor.Snapshot
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	MetricsBind  string
	Platforms    []string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *zap.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := opts.Registry
	if registry == nil {
		registry = builtin.NewRegistry()
		if err := registry.Build(cfg.Platforms, platform.Deps{Logger: logger}); err != nil {
			return nil, fmt.Errorf("build platforms: %w", err)
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipeline := metrics.NewPipeline(promRegistry)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	watcher := opts.Watcher
	if watcher == nil {
		watcher = supervisor.New(cfg, supervisor.Options{
			ConfigPath: opts.ConfigPath,
			Logger:     logger,
			Metrics:    pipeline,
		})
	}

	d := &Daemon{
		cfg:          cfg,
		logger:       logging.Component(logger, "daemon"),
		store:        st,
		registry:     registry,
		watcher:      watcher,
		auth:         NewAuthorizer(cfg.Permissions.Allow),
		notifier:     notifier,
		promRegistry: promRegistry,
		metrics:      pipeline,
		lockPath:     cfg.LockPath(),
		lock:         flock.New(cfg.LockPath()),
	}
	d.workflow = workflow.NewManager(cfg, st, registry,
		workflow.WithLogger(logger),
		workflow.WithMetrics(pipeline),
		workflow.WithNotifier(notifier),
	)
	if bind := strings.TrimSpace(cfg.Metrics.Bind); bind != "" {
		d.httpServer = newHTTPServer(bind, d, logger)
	}
	return d, nil
}

// Start acquires the daemon lock, serves metrics and starts the watcher
// when autostart is configured.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediapub daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := d.httpServer.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)

	if d.watcher.Snapshot().PID == 0 {
		d.sweepOrphans(runCtx)
	}
	d.refreshCounts(runCtx)
	d.wg.Add(1)
	go d.countsLoop(runCtx)

	d.logger.Info("mediapub daemon started", zap.String("lock", d.lockPath))

	if d.cfg.Watcher.Autostart {
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Error("watcher autostart failed", zap.Error(err))
		}
	}
	return nil
}

// Stop shuts the watcher worker down gracefully and releases the daemon lock.
func (d *Daemon) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if err := d.watcher.Shutdown(ctx); err != nil {
		d.logger.Warn("failed to shut the watcher worker down", zap.Error(err))
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.httpServer.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", zap.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("mediapub daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.Stop(ctx)
	if d.notifier != nil {
		_ = d.notifier.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Authorizer exposes the capability checks applied to operator requests.
func (d *Daemon) Authorizer() *Authorizer {
	return d.auth
}

// MetricsAddr returns the address of the HTTP server, or "" when it is
// disabled or stopped.
func (d *Daemon) MetricsAddr() string {
	return d.httpServer.addr()
}

// MetricsGatherer exposes the Prometheus registry served on metrics.bind.
func (d *Daemon) MetricsGatherer() prometheus.Gatherer {
	return d.promRegistry
}

func (d *Daemon) countsLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(countsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshCounts(ctx)
		}
	}
}

func (d *Daemon) refreshCounts(ctx context.Context) {
	counts, err := d.store.CountByState(ctx)
	if err != nil {
		d.logger.Debug("count packages", zap.Error(err))
		return
	}
	labels := make(map[string]int, len(counts))
	for _, state := range store.AllStates() {
		labels[state.String()] = counts[state]
	}
	d.metrics.SetPackageCounts(labels)
}

// WatcherStatus returns the supervised watcher snapshot.
func (d *Daemon) WatcherStatus() (supervisor.Snapshot, error) {
	if err := d.auth.Check(CapWatcherStatus); err != nil {
		return supervisor.Snapshot{}, err
	}
	return d.watcher.Snapshot(), nil
}

// StartWatcher launches the watcher worker.
func (d *Daemon) StartWatcher(ctx context.Context) error {
	if err := d.auth.Check(CapWatcherControl); err != nil {
		return err
	}
	if err := d.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	d.logger.Info("watcher started by operator")
	return nil
}

// StopWatcher stops detecting new files. The worker keeps driving the
// packages already in progress.
func (d *Daemon) StopWatcher(ctx context.Context) error {
	if err := d.auth.Check(CapWatcherControl); err != nil {
		return err
	}
	if err := d.watcher.Stop(ctx); err != nil {
		return fmt.Errorf("stop watcher: %w", err)
	}
	d.logger.Info("watcher stopped by operator")
	return nil
}

// RetryPackages asks the watcher worker to resume packages.
func (d *Daemon) RetryPackages(ctx context.Context, ids []string) ([]string, error) {
	if err := d.auth.Check(CapPackageRetry); err != nil {
		return nil, err
	}
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return nil, errors.New("retry requires at least one package id")
	}
	scheduled, err := d.watcher.Retry(ctx, ids)
	if err != nil {
		return scheduled, err
	}
	d.logger.Info("packages retried", zap.Strings("ids", scheduled))
	return scheduled, nil
}

// UploadPackages asks the watcher worker to (re)upload packages to a
// platform.
func (d *Daemon) UploadPackages(ctx context.Context, ids []string, platformName string) ([]string, error) {
	if err := d.auth.Check(CapPackageUpload); err != nil {
		return nil, err
	}
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return nil, errors.New("upload requires at least one package id")
	}
	platformName = strings.TrimSpace(platformName)
	if platformName == "" {
		return nil, errors.New("upload requires a platform")
	}
	if _, err := d.registry.Get(platformName); err != nil {
		return nil, err
	}
	scheduled, err := d.watcher.Upload(ctx, ids, platformName)
	if err != nil {
		return scheduled, err
	}
	d.logger.Info("packages sent to upload",
		zap.Strings("ids", scheduled), zap.String(logging.FieldPlatform, platformName))
	return scheduled, nil
}

// ListFilter narrows ListPackages.
type ListFilter struct {
	States   []store.State
	Platform string
	Search   string
	Limit    int
}

// ListPackages returns packages, newest first.
func (d *Daemon) ListPackages(ctx context.Context, filter ListFilter) ([]*store.Package, error) {
	if err := d.auth.Check(CapPackageRead); err != nil {
		return nil, err
	}
	var conds []store.Condition
	if len(filter.States) > 0 {
		conds = append(conds, store.In(store.FieldState, filter.States...))
	}
	if p := strings.TrimSpace(filter.Platform); p != "" {
		conds = append(conds, store.Equal(store.FieldPlatform, p))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		conds = append(conds, store.Search(s))
	}
	query := store.Query{SortBy: store.FieldCreatedAt, Desc: true, Limit: filter.Limit}
	if len(conds) > 0 {
		query.Where = store.And(conds...)
	}
	return d.store.GetAll(ctx, query)
}

// DescribePackage returns one package.
func (d *Daemon) DescribePackage(ctx context.Context, id string) (*store.Package, error) {
	if err := d.auth.Check(CapPackageRead); err != nil {
		return nil, err
	}
	return d.lookup(ctx, id)
}

// RemovePackage deletes a package with its remote media and files. Packages
// still moving through the pipeline can only be removed while the watcher
// is stopped.
func (d *Daemon) RemovePackage(ctx context.Context, id string) error {
	if err := d.auth.Check(CapPackageRemove); err != nil {
		return err
	}
	pkg, err := d.lookup(ctx, id)
	if err != nil {
		return err
	}
	if !pkg.State.Finished() && d.watcher.Snapshot().PID != 0 {
		return failure.Newf(failure.KindPackage, failure.CodeRemovePackage,
			"package %s is %s; stop the watcher or wait for it to finish", pkg.ID, pkg.State)
	}
	if err := d.workflow.Remove(ctx, pkg.ID); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeRemovePackage, "remove package "+pkg.ID, err)
	}
	d.refreshCounts(ctx)
	return nil
}

// PublishPackage moves a READY package to PUBLISHED, or back when publish
// is false.
func (d *Daemon) PublishPackage(ctx context.Context, id string, publish bool) (*store.Package, error) {
	if err := d.auth.Check(CapPackagePublish); err != nil {
		return nil, err
	}
	if publish {
		return d.workflow.Publish(ctx, strings.TrimSpace(id))
	}
	return d.workflow.Unpublish(ctx, strings.TrimSpace(id))
}

func (d *Daemon) lookup(ctx context.Context, id string) (*store.Package, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("package id is required")
	}
	pkg, err := d.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure.Wrap(failure.KindPackage, failure.CodePackageNotFound, "lookup "+id, err)
	}
	return pkg, err
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Watcher:      d.watcher.Snapshot(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		MetricsBind:  strings.TrimSpace(d.cfg.Metrics.Bind),
		Platforms:    d.registry.Names(),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
}

// sweepOrphans removes work and public directories of packages that no
// longer exist. It only runs while the watcher worker is stopped.
func (d *Daemon) sweepOrphans(ctx context.Context) {
	pkgs, err := d.store.GetAll(ctx, store.Query{})
	if err != nil {
		d.logger.Warn("list packages for cleanup", zap.Error(err))
		return
	}
	active := make(map[string]struct{}, len(pkgs))
	for _, pkg := range pkgs {
		active[pkg.ID] = struct{}{}
	}
	for _, root := range []string{d.cfg.Paths.WorkDir, d.cfg.Paths.PublicDir} {
		result := staging.CleanOrphaned(ctx, root, active, orphanMinAge, d.logger)
		for _, failed := range result.Errors {
			d.logger.Warn("orphan cleanup", zap.String(logging.FieldPath, failed.Path), zap.Error(failed.Error))
		}
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mediapub/internal/config"
	"mediapub/internal/logging"
	"mediapub/internal/mediatools"
	"mediapub/internal/metrics"
	"mediapub/internal/notifications"
	"mediapub/internal/platform"
	"mediapub/internal/store"
)

// Manager drives packages through the transition table.
type Manager struct {
	cfg         *config.Config
	store       *store.Store
	registry    *platform.Registry
	tools       mediatools.Toolkit
	notifier    notifications.Service
	metrics     *metrics.Pipeline
	logger      *zap.Logger
	layout      layout
	transitions []transition
	uploads     *semaphore.Weighted

	syncInterval  time.Duration
	mergeInterval time.Duration

	mu          sync.RWMutex
	running     bool
	runCtx      context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	active      map[string]struct{}
	lastErr     error
	lastPackage *store.Package
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithToolkit overrides the ffmpeg based media toolkit.
func WithToolkit(tools mediatools.Toolkit) Option {
	return func(m *Manager) {
		if tools != nil {
			m.tools = tools
		}
	}
}

// WithNotifier overrides the notification service built from config.
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithMetrics records transition activity on p.
func WithMetrics(p *metrics.Pipeline) Option {
	return func(m *Manager) { m.metrics = p }
}

// WithLogger sets the base logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPollIntervals overrides the synchronize and merge wait intervals,
// which are configured in whole seconds.
func WithPollIntervals(syncEvery, mergeEvery time.Duration) Option {
	return func(m *Manager) {
		if syncEvery > 0 {
			m.syncInterval = syncEvery
		}
		if mergeEvery > 0 {
			m.mergeInterval = mergeEvery
		}
	}
}

// NewManager constructs a workflow manager. The registry must already be
// built from the configured platforms.
func NewManager(cfg *config.Config, st *store.Store, registry *platform.Registry, opts ...Option) *Manager {
	m := &Manager{
		cfg:           cfg,
		store:         st,
		registry:      registry,
		logger:        logging.NewNop(),
		layout:        layout{work: cfg.Paths.WorkDir, public: cfg.Paths.PublicDir},
		transitions:   buildTransitions(),
		syncInterval:  time.Duration(cfg.Pipeline.SyncInterval) * time.Second,
		mergeInterval: time.Duration(cfg.Pipeline.MergeWaitInterval) * time.Second,
		active:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.Component(m.logger, "workflow")
	if m.tools == nil {
		m.tools = mediatools.New(cfg.Pipeline.FFmpegBinary, cfg.Pipeline.FFprobeBinary, m.logger)
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg)
	}
	if m.registry == nil {
		m.registry = platform.NewRegistry()
	}
	slots := cfg.Pipeline.MaxConcurrentUploads
	if slots <= 0 {
		slots = 1
	}
	m.uploads = semaphore.NewWeighted(int64(slots))
	return m
}

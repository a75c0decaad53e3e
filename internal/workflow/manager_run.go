package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mediapub/internal/logging"
	"mediapub/internal/store"
)

// ErrNotRunning is returned by operations that need a started manager.
var ErrNotRunning = errors.New("workflow not running")

// Start enables package processing. Packages are driven on a context
// derived from ctx, so cancelling it interrupts in-flight transitions and
// leaves their packages in a processing state for Resume.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	return nil
}

// Stop interrupts in-flight packages and waits for their goroutines.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	if err := m.notifier.Close(); err != nil {
		m.logger.Warn("close notifier", zap.Error(err))
	}
}

// WaitIdle blocks until no package is being driven or ctx ends.
func (m *Manager) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ActiveCount returns the number of packages currently being driven.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *Manager) isActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[id]
	return ok
}

// schedule starts a driver goroutine for id unless one is already running.
// It reports whether a new driver was started.
func (m *Manager) schedule(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false, ErrNotRunning
	}
	if _, busy := m.active[id]; busy {
		return false, nil
	}
	m.active[id] = struct{}{}
	m.wg.Add(1)
	go m.drive(m.runCtx, id)
	return true, nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// drive executes transitions for one package until it finishes, fails,
// rests, or ctx ends.
func (m *Manager) drive(ctx context.Context, id string) {
	defer m.wg.Done()
	defer m.release(id)

	logger := m.logger.With(zap.String(logging.FieldPackageID, id))
	pkg, err := m.store.Get(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("load package", zap.Error(err))
			m.setLastError(err)
		}
		return
	}
	if pkg.State.Available() {
		return
	}
	if m.lockedByMerge(pkg) {
		logger.Debug("package is locked by a merge; leaving it alone")
		return
	}

	for ctx.Err() == nil {
		next, ok, err := m.nextTransition(pkg)
		if err != nil {
			m.handleTransitionFailure(ctx, pkg, transition{name: pkg.LastTransition}, err)
			return
		}
		if !ok {
			m.finish(ctx, pkg)
			return
		}
		if err := m.executeTransition(ctx, pkg, next); err != nil {
			return
		}
	}
}

// lockedByMerge reports whether pkg is flagged MERGING as another package's
// merge target rather than by its own handshake.
func (m *Manager) lockedByMerge(pkg *store.Package) bool {
	if pkg.State != store.StateMerging || pkg.MetaString(store.MetaMergeWith) != "" {
		return false
	}
	_, more, err := m.nextTransition(pkg)
	return err == nil && !more
}

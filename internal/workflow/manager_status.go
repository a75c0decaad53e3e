package workflow

import (
	"context"

	"go.uber.org/zap"

	"mediapub/internal/store"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Active      int
	LastError   string
	LastPackage *store.Package
	Counts      map[store.State]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, Active: len(m.active)}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastPackage != nil {
		summary.LastPackage = m.lastPackage.Clone()
	}
	m.mu.RUnlock()

	counts, err := m.store.CountByState(ctx)
	if err != nil {
		m.logger.Warn("failed to count packages", zap.Error(err))
	}
	summary.Counts = counts
	return summary
}

func (m *Manager) refreshCounts(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	counts, err := m.store.CountByState(ctx)
	if err != nil {
		return
	}
	labels := make(map[string]int, len(counts))
	for _, state := range store.AllStates() {
		labels[state.String()] = counts[state]
	}
	m.metrics.SetPackageCounts(labels)
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastPackage(pkg *store.Package) {
	m.mu.Lock()
	if pkg != nil {
		m.lastPackage = pkg.Clone()
	} else {
		m.lastPackage = nil
	}
	m.mu.Unlock()
}

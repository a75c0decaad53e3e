package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mediapub/internal/logging"
	"mediapub/internal/notifications"
	"mediapub/internal/services"
	"mediapub/internal/store"
)

// executeTransition runs one transition against pkg and persists the
// outcome. A nil return means the package advanced.
func (m *Manager) executeTransition(ctx context.Context, pkg *store.Package, t transition) error {
	tctx := services.WithTransition(services.WithPackageID(ctx, pkg.ID), t.name)
	tctx = services.WithPlatform(tctx, pkg.Platform)
	logger := logging.WithContext(tctx, m.logger)

	if !t.keepState {
		pkg.State = t.processing
	} else if pkg.State == store.StateError || pkg.State == store.StateMerging {
		pkg.State = pkg.LastState
	}
	pkg.ErrorCode = 0
	pkg.ErrorMessage = ""
	if err := m.store.Update(ctx, pkg); err != nil {
		wrapped := fmt.Errorf("persist processing state: %w", err)
		if ctx.Err() == nil {
			logger.Error("failed to persist processing state", zap.Error(wrapped))
			m.setLastError(wrapped)
		}
		return wrapped
	}
	m.setLastPackage(pkg)

	start := time.Now()
	logger.Debug("transition started", zap.String(logging.FieldState, pkg.State.String()))
	runErr := t.run(&task{m: m, pkg: pkg, logger: logger}, tctx)
	m.metrics.ObserveTransition(t.name, time.Since(start), runErr)

	if runErr != nil {
		if errors.Is(runErr, errRest) {
			if err := m.store.Update(ctx, pkg); err != nil {
				logger.Error("failed to persist resting state", zap.Error(err))
				return err
			}
			logger.Info("package waiting for an operator action", zap.String(logging.FieldState, pkg.State.String()))
			m.setLastPackage(pkg)
			return errRest
		}
		if ctx.Err() != nil {
			logger.Debug("transition interrupted by shutdown")
			return ctx.Err()
		}
		m.handleTransitionFailure(ctx, pkg, t, runErr)
		return runErr
	}

	pkg.LastState = pkg.State
	pkg.LastTransition = t.name
	if err := m.store.Update(ctx, pkg); err != nil {
		wrapped := fmt.Errorf("persist transition result: %w", err)
		if ctx.Err() == nil {
			logger.Error("failed to persist transition result", zap.Error(wrapped))
			m.setLastError(wrapped)
		}
		return wrapped
	}
	logger.Info("transition completed",
		zap.String(logging.FieldState, pkg.State.String()),
		zap.Duration("duration", time.Since(start)),
	)
	m.setLastPackage(pkg)
	return nil
}

// finish moves a package that exhausted the table to its resting state.
func (m *Manager) finish(ctx context.Context, pkg *store.Package) {
	logger := m.logger.With(zap.String(logging.FieldPackageID, pkg.ID))
	target := store.StateReady
	if m.cfg.Pipeline.AutoPublish || pkg.MetaBool(store.MetaPublish) {
		target = store.StatePublished
	}
	pkg.State = target
	pkg.SetMeta(store.MetaPublish, nil)
	if err := m.store.Update(ctx, pkg); err != nil {
		if ctx.Err() == nil {
			logger.Error("failed to persist final state", zap.Error(err))
			m.setLastError(err)
		}
		return
	}
	logger.Info("package processed", zap.String(logging.FieldState, target.String()))
	m.setLastPackage(pkg)
	m.refreshCounts(ctx)

	event := notifications.EventPackageReady
	if target == store.StatePublished {
		event = notifications.EventPackagePublished
	}
	m.notify(ctx, event, pkg, nil)
}

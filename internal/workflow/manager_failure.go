package workflow

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/notifications"
	"mediapub/internal/store"
)

// handleTransitionFailure parks pkg in ERROR with the code carried by err,
// or the transition's own code when err is untagged. lastState and
// lastTransition keep pointing at the last success.
func (m *Manager) handleTransitionFailure(ctx context.Context, pkg *store.Package, t transition, runErr error) {
	code := failure.CodeOf(runErr, t.code)
	if code == failure.CodeNone {
		code = failure.CodeTransition
	}
	message := strings.TrimSpace(runErr.Error())
	if message == "" {
		message = t.name + " failed"
	}

	pkg.State = store.StateError
	pkg.ErrorCode = code
	pkg.ErrorMessage = message

	logger := m.logger.With(
		zap.String(logging.FieldPackageID, pkg.ID),
		zap.String(logging.FieldTransition, t.name),
	)
	logger.Error("transition failed",
		zap.Int("error_code", int(code)),
		zap.String("error_name", code.String()),
		zap.String("error_kind", string(failure.KindOf(runErr, failure.KindPackage))),
		zap.Error(runErr),
	)

	if err := m.store.Update(ctx, pkg); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not persist transition failure")
		} else {
			logger.Error("failed to persist transition failure", zap.Error(err))
		}
	}

	m.setLastError(runErr)
	m.setLastPackage(pkg)
	m.refreshCounts(ctx)
	m.notify(ctx, notifications.EventPackageFailed, pkg, notifications.Payload{
		"transition": t.name,
		"errorCode":  int(code),
		"error":      message,
	})
}

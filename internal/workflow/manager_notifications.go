package workflow

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mediapub/internal/logging"
	"mediapub/internal/notifications"
	"mediapub/internal/store"
)

func (m *Manager) notify(ctx context.Context, event notifications.Event, pkg *store.Package, extra notifications.Payload) {
	if m.notifier == nil || pkg == nil {
		return
	}
	payload := notifications.Payload{
		"id":       pkg.ID,
		"name":     pkg.Name,
		"state":    pkg.State.String(),
		"platform": pkg.Platform,
		"mediaIds": pkg.MediaIDs,
	}
	if title := pkg.MetaString(store.MetaTitle); title != "" {
		payload["title"] = title
	}
	if !pkg.Sources.Empty() {
		payload["sources"] = pkg.Sources
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logger := m.logger.With(zap.String(logging.FieldPackageID, pkg.ID))
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not send notification")
		} else {
			logger.Warn("notification failed", zap.String("event", string(event)), zap.Error(err))
		}
	}
}

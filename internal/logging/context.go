package logging

import (
	"context"

	"go.uber.org/zap"

	"mediapub/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldPackageID is the standardized structured logging key for package identifiers.
	FieldPackageID = "package_id"
	// FieldTransition is the standardized structured logging key for state machine transitions.
	FieldTransition = "transition"
	// FieldState is the standardized structured logging key for package states.
	FieldState = "state"
	// FieldPlatform is the standardized structured logging key for upload platforms.
	FieldPlatform = "platform"
	// FieldPath is the standardized structured logging key for filesystem paths.
	FieldPath = "path"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized zap fields from the provided context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 4)
	if id, ok := services.PackageIDFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldPackageID, id))
	}
	if name, ok := services.TransitionFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldTransition, name))
	}
	if name, ok := services.PlatformFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldPlatform, name))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// Component returns a logger tagged with the component name.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(zap.String(FieldComponent, name))
}

package services

import "context"

type contextKey string

const (
	packageIDKey  contextKey = "package_id"
	transitionKey contextKey = "transition"
	platformKey   contextKey = "platform"
	requestIDKey  contextKey = "request_id"
)

// WithPackageID annotates context with the package identifier.
func WithPackageID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, packageIDKey, id)
}

// PackageIDFromContext extracts the package identifier if present.
func PackageIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(packageIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTransition annotates context with the running transition name.
func WithTransition(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, transitionKey, name)
}

// TransitionFromContext returns the transition name if present.
func TransitionFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(transitionKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPlatform annotates context with the upload platform name.
func WithPlatform(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, platformKey, name)
}

// PlatformFromContext returns the platform name if present.
func PlatformFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(platformKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

package platform

import (
	"context"

	"mediapub/internal/store"
)

// Info reports delivery readiness for a set of remote media.
type Info struct {
	Available bool
	Sources   store.Sources
}

// Media identifies the remote media a package owns.
type Media struct {
	IDs     []string
	Heights []int
}

// UpdateData carries descriptive metadata pushed to the platform.
type UpdateData struct {
	Title       string
	Description string
}

// Provider is implemented by every upload destination.
type Provider interface {
	// Upload sends the file and returns the remote media id.
	Upload(ctx context.Context, filePath string) (string, error)
	// GetInfo reports whether the media are available. Unavailable media
	// are polled again by the caller.
	GetInfo(ctx context.Context, mediaIDs []string, heights []int) (Info, error)
	// Update pushes metadata. Without force, unchanged titles are skipped.
	Update(ctx context.Context, media Media, data UpdateData, force bool) error
	// Remove deletes every id, attempting all of them before reporting.
	Remove(ctx context.Context, mediaIDs []string) error
}

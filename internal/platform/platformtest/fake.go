// Package platformtest provides an in-memory Provider for tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"mediapub/internal/platform"
	"mediapub/internal/store"
)

// Fake records calls and returns scripted results.
type Fake struct {
	mu sync.Mutex

	// UploadErrs are returned by successive Upload calls; nil entries succeed.
	UploadErrs []error
	// UnavailableFor makes GetInfo report unavailable for that many calls.
	UnavailableFor int
	// InfoErr is returned by every GetInfo call when set.
	InfoErr error
	// RemoveErr is returned by Remove when set.
	RemoveErr error
	// Block, when non-nil, stalls Upload until closed.
	Block chan struct{}
	// Entered, when non-nil, receives the file path as each Upload begins.
	Entered chan string

	uploads   []string
	infoCalls int
	updates   []platform.UpdateData
	forced    []bool
	removed   []string
	next      int
}

var _ platform.Provider = (*Fake)(nil)

// Upload records filePath and returns a sequential id.
func (f *Fake) Upload(ctx context.Context, filePath string) (string, error) {
	if f.Entered != nil {
		select {
		case f.Entered <- filePath:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filePath)
	call := len(f.uploads) - 1
	if call < len(f.UploadErrs) && f.UploadErrs[call] != nil {
		return "", f.UploadErrs[call]
	}
	f.next++
	return fmt.Sprintf("media-%d", f.next), nil
}

// GetInfo reports availability after UnavailableFor calls.
func (f *Fake) GetInfo(_ context.Context, ids []string, heights []int) (platform.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if f.InfoErr != nil {
		return platform.Info{}, f.InfoErr
	}
	if f.infoCalls <= f.UnavailableFor {
		return platform.Info{}, nil
	}
	var sources store.Sources
	for i, id := range ids {
		height := 0
		if i < len(heights) {
			height = heights[i]
		}
		sources.Files = append(sources.Files, store.Source{
			URL:      "http://fake.test/" + id + ".mp4",
			MimeType: "video/mp4",
			Height:   height,
			MediaID:  id,
		})
	}
	return platform.Info{Available: true, Sources: sources}, nil
}

// Update records the data pushed.
func (f *Fake) Update(_ context.Context, _ platform.Media, data platform.UpdateData, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, data)
	f.forced = append(f.forced, force)
	return nil
}

// Remove records the ids.
func (f *Fake) Remove(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ids...)
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	return nil
}

// Uploads returns the base names of uploaded files.
func (f *Fake) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.uploads))
	for i, path := range f.uploads {
		names[i] = filepath.Base(path)
	}
	return names
}

// InfoCalls returns how many times GetInfo ran.
func (f *Fake) InfoCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls
}

// Updates returns the recorded update payloads.
func (f *Fake) Updates() []platform.UpdateData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.UpdateData(nil), f.updates...)
}

// Removed returns every id passed to Remove.
func (f *Fake) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// ErrUploadRejected is a convenience failure for scripted uploads.
var ErrUploadRejected = errors.New("upload rejected")

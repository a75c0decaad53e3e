package daemon

import (
	"errors"
	"fmt"
	"strings"
)

// Capability names one operator permission.
type Capability string

const (
	CapWatcherStatus  Capability = "watcher.status"
	CapWatcherControl Capability = "watcher.control"
	CapPackageRead    Capability = "package.read"
	CapPackageRetry   Capability = "package.retry"
	CapPackageUpload  Capability = "package.upload"
	CapPackagePublish Capability = "package.publish"
	CapPackageRemove  Capability = "package.remove"
)

// ErrForbidden is returned when an operation needs a capability that is not
// granted.
var ErrForbidden = errors.New("permission denied")

// Authorizer answers allow/deny for a named capability.
type Authorizer struct {
	allowed map[Capability]struct{}
}

// NewAuthorizer grants the listed capabilities. Unknown names are kept so
// that a misspelled grant simply never matches.
func NewAuthorizer(allow []string) *Authorizer {
	a := &Authorizer{allowed: make(map[Capability]struct{}, len(allow))}
	for _, name := range allow {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			a.allowed[Capability(name)] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether c is granted.
func (a *Authorizer) Allowed(c Capability) bool {
	if a == nil {
		return false
	}
	_, ok := a.allowed[c]
	return ok
}

// Check returns ErrForbidden when c is not granted.
func (a *Authorizer) Check(c Capability) error {
	if a.Allowed(c) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, c)
}

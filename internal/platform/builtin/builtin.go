// Package builtin wires every bundled platform type into a registry.
package builtin

import (
	"mediapub/internal/platform"
	"mediapub/internal/platform/ftp"
	"mediapub/internal/platform/local"
	"mediapub/internal/platform/objectstore"
	"mediapub/internal/platform/trusted"
	"mediapub/internal/platform/vimeo"
)

// NewRegistry returns a registry knowing all bundled platform types.
func NewRegistry() *platform.Registry {
	reg := platform.NewRegistry()
	local.Register(reg)
	ftp.Register(reg)
	vimeo.Register(reg)
	trusted.Register(reg)
	objectstore.Register(reg)
	return reg
}

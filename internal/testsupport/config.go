package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mediapub/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.PublicDir = filepath.Join(base, "public")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Watcher.StabilityWindowMS = 100
	cfgVal.Watcher.PollIntervalMS = 20
	cfgVal.Pipeline.SyncInterval = 1
	cfgVal.Pipeline.SyncAttempts = 3
	cfgVal.Pipeline.MergeWaitInterval = 1
	cfgVal.Pipeline.MergeWaitAttempts = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithHotFolder adds a hot folder under the test base directory and creates it.
func WithHotFolder(name, platform string) ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.t.Fatalf("mkdir hot folder: %v", err)
		}
		b.cfg.Watcher.HotFolders = append(b.cfg.Watcher.HotFolders, config.HotFolder{Path: dir, Platform: platform})
	}
}

// WithLocalPlatform declares a local platform rooted in the test base directory.
func WithLocalPlatform(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Platforms = append(b.cfg.Platforms, config.Platform{
			Name: name,
			Type: "local",
			Settings: map[string]any{
				"root":       filepath.Join(b.baseDir, "media-"+name),
				"public_url": "http://media.test/" + name,
			},
		})
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediapub/internal/config"
	"mediapub/internal/daemon"
	"mediapub/internal/ipc"
	"mediapub/internal/logging"
	"mediapub/internal/platform"
	"mediapub/internal/platform/platformtest"
	"mediapub/internal/store"
	"mediapub/internal/supervisor"
	"mediapub/internal/testsupport"
	"mediapub/internal/watcher"
)

type fakeWatcher struct {
	mu      sync.Mutex
	running bool
}

func (f *fakeWatcher) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeWatcher) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeWatcher) Shutdown(ctx context.Context) error {
	return f.Stop(ctx)
}

func (f *fakeWatcher) Retry(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, supervisor.ErrNotRunning
	}
	return ids, nil
}

func (f *fakeWatcher) Upload(_ context.Context, ids []string, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, supervisor.ErrNotRunning
	}
	return ids, nil
}

func (f *fakeWatcher) Snapshot() supervisor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return supervisor.Snapshot{Status: watcher.StatusStarted, PID: 321}
	}
	return supervisor.Snapshot{Status: watcher.StatusStopped}
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	registry := platform.NewRegistry()
	registry.Set("fake", "fake", &platformtest.Fake{})

	d, err := daemon.New(cfg, st, logging.NewNop(), daemon.Options{
		ConfigPath: configPath,
		Registry:   registry,
		Watcher:    &fakeWatcher{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		socketPath: cfg.SocketPath(),
		configPath: configPath,
	}
}

func (e *cliTestEnv) addPackage(t *testing.T, path string, state store.State) *store.Package {
	t.Helper()
	pkg := testsupport.NewPackage(t, e.store, path)
	pkg.State = state
	pkg.Platform = "fake"
	if state.Available() {
		pkg.MediaIDs = []string{"media-" + pkg.Name}
	}
	if err := e.store.Update(context.Background(), pkg); err != nil {
		t.Fatalf("store.Update: %v", err)
	}
	return pkg
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

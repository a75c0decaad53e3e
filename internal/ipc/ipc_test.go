package ipc_test

import (
	"context"
	"strings"
	"sync"
	"testing"

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
	return ids, nil
}

func (f *fakeWatcher) Upload(_ context.Context, ids []string, _ string) ([]string, error) {
	return ids, nil
}

func (f *fakeWatcher) Snapshot() supervisor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return supervisor.Snapshot{Status: watcher.StatusStarted, PID: 99}
	}
	return supervisor.Snapshot{Status: watcher.StatusStopped}
}

func startServer(t *testing.T, mutate func(*config.Config)) (*ipc.Client, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	registry := platform.NewRegistry()
	registry.Set("fake", "fake", &platformtest.Fake{})
	d, err := daemon.New(cfg, st, logging.NewNop(), daemon.Options{Registry: registry, Watcher: &fakeWatcher{}})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, st
}

func TestIPCServerClient(t *testing.T) {
	client, st := startServer(t, nil)
	pkg := testsupport.NewPackage(t, st, "/hot/lecture.mp4")
	pkg.State = store.StateReady
	pkg.Platform = "fake"
	if err := st.Update(context.Background(), pkg); err != nil {
		t.Fatalf("store.Update: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Status.Watcher.Status != "stopped" {
		t.Fatalf("expected stopped watcher, got %q", status.Status.Watcher.Status)
	}
	if status.Status.Workflow.Counts["READY"] != 1 {
		t.Fatalf("unexpected counts %v", status.Status.Workflow.Counts)
	}

	started, err := client.WatcherStart()
	if err != nil {
		t.Fatalf("WatcherStart RPC failed: %v", err)
	}
	if started.Watcher.Status != "started" || started.Watcher.PID != 99 {
		t.Fatalf("unexpected watcher %+v", started.Watcher)
	}

	retried, err := client.RetryPackages([]string{pkg.ID})
	if err != nil {
		t.Fatalf("RetryPackages RPC failed: %v", err)
	}
	if len(retried.IDs) != 1 || retried.IDs[0] != pkg.ID {
		t.Fatalf("unexpected retried ids %v", retried.IDs)
	}

	if _, err := client.UploadPackages([]string{pkg.ID}, "missing"); err == nil {
		t.Fatal("expected upload to an unknown platform to fail")
	}

	list, err := client.PackageList(ipc.PackageListRequest{States: []string{"ready"}})
	if err != nil {
		t.Fatalf("PackageList RPC failed: %v", err)
	}
	if len(list.Packages) != 1 || list.Packages[0].ID != pkg.ID {
		t.Fatalf("unexpected packages %+v", list.Packages)
	}
	if _, err := client.PackageList(ipc.PackageListRequest{States: []string{"sleeping"}}); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}

	published, err := client.PackagePublish(pkg.ID, true)
	if err != nil {
		t.Fatalf("PackagePublish RPC failed: %v", err)
	}
	if published.Package.State != "PUBLISHED" || !published.Package.Published {
		t.Fatalf("unexpected package %+v", published.Package)
	}

	described, err := client.PackageDescribe(pkg.ID)
	if err != nil {
		t.Fatalf("PackageDescribe RPC failed: %v", err)
	}
	if described.Package.Name != "lecture" {
		t.Fatalf("unexpected package %+v", described.Package)
	}

	removed, err := client.PackageRemove(pkg.ID)
	if err != nil {
		t.Fatalf("PackageRemove RPC failed: %v", err)
	}
	if !removed.Removed {
		t.Fatal("expected removal confirmation")
	}
	if _, err := client.PackageDescribe(pkg.ID); err == nil {
		t.Fatal("expected removed package to be missing")
	}

	stopped, err := client.WatcherStop()
	if err != nil {
		t.Fatalf("WatcherStop RPC failed: %v", err)
	}
	if stopped.Watcher.Status != "stopped" {
		t.Fatalf("unexpected watcher %+v", stopped.Watcher)
	}
}

func TestIPCReportsDeniedCapabilities(t *testing.T) {
	client, _ := startServer(t, func(cfg *config.Config) {
		cfg.Permissions.Allow = []string{"watcher.status"}
	})

	if _, err := client.WatcherStatus(); err != nil {
		t.Fatalf("WatcherStatus should be allowed: %v", err)
	}
	_, err := client.RetryPackages([]string{"p1"})
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, err := client.WatcherStart(); err == nil {
		t.Fatal("expected watcher.control to be denied")
	}
}

package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mediapub/internal/config"
	"mediapub/internal/daemon"
	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/platform"
	"mediapub/internal/platform/platformtest"
	"mediapub/internal/store"
	"mediapub/internal/supervisor"
	"mediapub/internal/testsupport"
	"mediapub/internal/watcher"
)

type fakeWatcher struct {
	mu       sync.Mutex
	running  bool
	starts    int
	stops     int
	shutdowns int
	retried  [][]string
	uploaded []string
}

func (f *fakeWatcher) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.running = true
	return nil
}

func (f *fakeWatcher) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeWatcher) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	f.running = false
	return nil
}

func (f *fakeWatcher) Retry(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, supervisor.ErrNotRunning
	}
	f.retried = append(f.retried, ids)
	return ids, nil
}

func (f *fakeWatcher) Upload(_ context.Context, ids []string, platform string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, supervisor.ErrNotRunning
	}
	f.uploaded = append(f.uploaded, platform)
	return ids, nil
}

func (f *fakeWatcher) Snapshot() supervisor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return supervisor.Snapshot{Status: watcher.StatusStarted, PID: 4242}
	}
	return supervisor.Snapshot{Status: watcher.StatusStopped}
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	watcher  *fakeWatcher
	provider *platformtest.Fake
	daemon   *daemon.Daemon
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	provider := &platformtest.Fake{}
	registry := platform.NewRegistry()
	registry.Set("fake", "fake", provider)
	fw := &fakeWatcher{}
	d, err := daemon.New(cfg, st, logging.NewNop(), daemon.Options{Registry: registry, Watcher: fw})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &fixture{cfg: cfg, store: st, watcher: fw, provider: provider, daemon: d}
}

func (f *fixture) addPackage(t *testing.T, name string, state store.State) *store.Package {
	t.Helper()
	pkg := testsupport.NewPackage(t, f.store, "/hot/"+name+".mp4")
	pkg.State = state
	pkg.Platform = "fake"
	if state.Available() {
		pkg.MediaIDs = []string{"media-" + name}
	}
	if state == store.StateError {
		pkg.ErrorCode = failure.CodeMediaUpload
	}
	if err := f.store.Update(context.Background(), pkg); err != nil {
		t.Fatalf("store.Update: %v", err)
	}
	return pkg
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop(ctx)
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if f.watcher.shutdowns != 1 || f.watcher.stops != 0 {
		t.Fatalf("expected worker shutdown on daemon stop, got %d shutdowns and %d stops",
			f.watcher.shutdowns, f.watcher.stops)
	}
}

func TestStartSweepsOrphanedPackageDirectories(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	kept := f.addPackage(t, "lecture", store.StateReady)

	old := time.Now().Add(-2 * time.Hour)
	orphan := filepath.Join(f.cfg.Paths.WorkDir, uuid.NewString())
	keptDir := filepath.Join(f.cfg.Paths.WorkDir, kept.ID)
	publicOrphan := filepath.Join(f.cfg.Paths.PublicDir, uuid.NewString())
	for _, dir := range []string{orphan, keptDir, publicOrphan} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, gone := range []string{orphan, publicOrphan} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed, stat err %v", gone, err)
		}
	}
	if _, err := os.Stat(keptDir); err != nil {
		t.Fatalf("expected live package directory to remain: %v", err)
	}
}

func TestStatusReportsDependencies(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Pipeline.FFmpegBinary = "clearly-not-present-ffmpeg"
		cfg.Pipeline.GenerateThumb = true
	})
	status := daemon.StatusPayload(f.daemon.Status(context.Background()))
	if len(status.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %+v", status.Dependencies)
	}
	ffmpeg := status.Dependencies[0]
	if ffmpeg.Name != "FFmpeg" || ffmpeg.Available || ffmpeg.Optional {
		t.Fatalf("expected missing required ffmpeg, got %+v", ffmpeg)
	}
}

func TestSecondInstanceCannotAcquireLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	other, err := daemon.New(f.cfg, testsupport.MustOpenStore(t, f.cfg), logging.NewNop(), daemon.Options{
		Registry: platform.NewRegistry(),
		Watcher:  &fakeWatcher{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = other.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func TestAutostartLaunchesWatcher(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Watcher.Autostart = true })
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if f.watcher.starts != 1 {
		t.Fatalf("expected autostart, got %d starts", f.watcher.starts)
	}
	snap, err := f.daemon.WatcherStatus()
	if err != nil {
		t.Fatalf("WatcherStatus: %v", err)
	}
	if snap.Status != watcher.StatusStarted {
		t.Fatalf("unexpected status %s", snap.Status)
	}
}

func TestCapabilitiesAreEnforced(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Permissions.Allow = []string{"package.read"} })
	ctx := context.Background()

	if _, err := f.daemon.ListPackages(ctx, daemon.ListFilter{}); err != nil {
		t.Fatalf("ListPackages should be allowed: %v", err)
	}
	checks := map[string]error{
		"retry":   func() error { _, err := f.daemon.RetryPackages(ctx, []string{"p"}); return err }(),
		"upload":  func() error { _, err := f.daemon.UploadPackages(ctx, []string{"p"}, "fake"); return err }(),
		"publish": func() error { _, err := f.daemon.PublishPackage(ctx, "p", true); return err }(),
		"remove":  f.daemon.RemovePackage(ctx, "p"),
		"start":   f.daemon.StartWatcher(ctx),
	}
	for name, err := range checks {
		if !errors.Is(err, daemon.ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", name, err)
		}
	}
	if f.watcher.starts != 0 {
		t.Fatal("forbidden start must not reach the watcher")
	}
}

func TestRetryAndUploadForwardToWatcher(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.daemon.RetryPackages(ctx, []string{"p1"}); !errors.Is(err, supervisor.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := f.daemon.StartWatcher(ctx); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}

	ids, err := f.daemon.RetryPackages(ctx, []string{" p1 ", "p2", "p1", ""})
	if err != nil {
		t.Fatalf("RetryPackages: %v", err)
	}
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := f.daemon.RetryPackages(ctx, []string{" "}); err == nil {
		t.Fatal("expected error for empty id list")
	}

	if _, err := f.daemon.UploadPackages(ctx, []string{"p1"}, "nowhere"); failure.CodeOf(err, failure.CodeNone) != failure.CodeInvalidConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := f.daemon.UploadPackages(ctx, []string{"p1"}, "fake"); err != nil {
		t.Fatalf("UploadPackages: %v", err)
	}
	if len(f.watcher.uploaded) != 1 || f.watcher.uploaded[0] != "fake" {
		t.Fatalf("unexpected uploads %v", f.watcher.uploaded)
	}
}

func TestListAndDescribePackages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ready := f.addPackage(t, "ready", store.StateReady)
	f.addPackage(t, "broken", store.StateError)

	pkgs, err := f.daemon.ListPackages(ctx, daemon.ListFilter{States: []store.State{store.StateReady}})
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].ID != ready.ID {
		t.Fatalf("unexpected list %v", pkgs)
	}
	all, err := f.daemon.ListPackages(ctx, daemon.ListFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two packages, got %d (%v)", len(all), err)
	}

	got, err := f.daemon.DescribePackage(ctx, ready.ID)
	if err != nil {
		t.Fatalf("DescribePackage: %v", err)
	}
	if got.Name != "ready" {
		t.Fatalf("unexpected package %+v", got)
	}
	_, err = f.daemon.DescribePackage(ctx, "missing")
	if !errors.Is(err, store.ErrNotFound) || failure.CodeOf(err, failure.CodeNone) != failure.CodePackageNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPublishAndUnpublish(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pkg := f.addPackage(t, "lecture", store.StateReady)

	published, err := f.daemon.PublishPackage(ctx, pkg.ID, true)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.State != store.StatePublished {
		t.Fatalf("expected PUBLISHED, got %s", published.State)
	}
	back, err := f.daemon.PublishPackage(ctx, pkg.ID, false)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if back.State != store.StateReady {
		t.Fatalf("expected READY, got %s", back.State)
	}

	broken := f.addPackage(t, "broken", store.StateError)
	if _, err := f.daemon.PublishPackage(ctx, broken.ID, true); err == nil {
		t.Fatal("expected publish of a failed package to be rejected")
	}
}

func TestRemoveRefusesInFlightPackagesWhileWatching(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	inflight := f.addPackage(t, "uploading", store.StateUploading)
	ready := f.addPackage(t, "ready", store.StateReady)

	if err := f.daemon.StartWatcher(ctx); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	err := f.daemon.RemovePackage(ctx, inflight.ID)
	if failure.CodeOf(err, failure.CodeNone) != failure.CodeRemovePackage {
		t.Fatalf("expected removal refusal, got %v", err)
	}

	if err := f.daemon.RemovePackage(ctx, ready.ID); err != nil {
		t.Fatalf("RemovePackage: %v", err)
	}
	if _, err := f.store.Get(ctx, ready.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected package to be gone, got %v", err)
	}
	if removed := f.provider.Removed(); len(removed) != 1 || removed[0] != "media-ready" {
		t.Fatalf("expected remote media removal, got %v", removed)
	}

	if err := f.daemon.StopWatcher(ctx); err != nil {
		t.Fatalf("StopWatcher: %v", err)
	}
	if err := f.daemon.RemovePackage(ctx, inflight.ID); err != nil {
		t.Fatalf("RemovePackage after stop: %v", err)
	}
}

func TestHTTPServerExposesMetricsAndPackages(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Metrics.Bind = "127.0.0.1:0" })
	ctx := context.Background()
	pkg := f.addPackage(t, "lecture", store.StateReady)
	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	base := "http://" + f.daemon.MetricsAddr()
	client := &http.Client{Timeout: 5 * time.Second}

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := client.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	if code != http.StatusOK || !strings.Contains(body, `mediapub_packages{state="READY"} 1`) {
		t.Fatalf("unexpected metrics response %d:\n%s", code, body)
	}

	code, body = get("/api/packages?state=ready")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	var list struct {
		Packages []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"packages"`
	}
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode packages: %v", err)
	}
	if len(list.Packages) != 1 || list.Packages[0].ID != pkg.ID || list.Packages[0].State != "READY" {
		t.Fatalf("unexpected packages %+v", list.Packages)
	}

	if code, _ = get("/api/packages/missing"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code, _ = get("/api/packages?state=bogus"); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code, body = get("/api/status"); code != http.StatusOK || !strings.Contains(body, `"running":true`) {
		t.Fatalf("unexpected status response %d: %s", code, body)
	}
}

package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"mediapub/internal/ipc"
	"mediapub/internal/store"
)

func TestPackageListFiltersAndRendersTable(t *testing.T) {
	env := setupCLITestEnv(t)
	ready := env.addPackage(t, "/hot/lecture.mp4", store.StateReady)
	failed := env.addPackage(t, "/hot/broken.mp4", store.StateError)

	out, _, err := runCLI(t, []string{"package", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package list: %v", err)
	}
	requireContains(t, out, ready.ID)
	requireContains(t, out, failed.ID)
	requireContains(t, out, "READY")

	out, _, err = runCLI(t, []string{"package", "list", "--state", "ready"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package list --state: %v", err)
	}
	requireContains(t, out, ready.ID)
	if strings.Contains(out, failed.ID) {
		t.Fatalf("expected errored package to be filtered out:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"package", "list", "--state", "sleeping"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatalf("expected unknown state to fail, got:\n%s", out)
	}
}

func TestPackageListJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	pkg := env.addPackage(t, "/hot/lecture.mp4", store.StateReady)

	out, _, err := runCLI(t, []string{"package", "list", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package list --json: %v", err)
	}
	var pkgs []ipc.Package
	if err := json.Unmarshal([]byte(out), &pkgs); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(pkgs) != 1 || pkgs[0].ID != pkg.ID || pkgs[0].State != "READY" {
		t.Fatalf("unexpected packages %+v", pkgs)
	}
}

func TestPackageListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"package", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package list: %v", err)
	}
	requireContains(t, out, "No packages found")

	out, _, err = runCLI(t, []string{"package", "list", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package list --json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty JSON list, got %q", out)
	}
}

func TestPackageShow(t *testing.T) {
	env := setupCLITestEnv(t)
	pkg := env.addPackage(t, "/hot/lecture.mp4", store.StateReady)

	out, _, err := runCLI(t, []string{"package", "show", pkg.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package show: %v", err)
	}
	requireContains(t, out, "lecture")
	requireContains(t, out, "/hot/lecture.mp4")
	requireContains(t, out, "media-lecture")

	if _, _, err := runCLI(t, []string{"package", "show", "missing"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unknown package to fail")
	}
}

func TestPackageRetryNeedsRunningWatcher(t *testing.T) {
	env := setupCLITestEnv(t)
	pkg := env.addPackage(t, "/hot/broken.mp4", store.StateError)

	_, _, err := runCLI(t, []string{"package", "retry", pkg.ID}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected not running error, got %v", err)
	}

	if _, _, err := runCLI(t, []string{"watcher", "start"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("watcher start: %v", err)
	}
	out, _, err := runCLI(t, []string{"package", "retry", pkg.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package retry: %v", err)
	}
	requireContains(t, out, "Retrying "+pkg.ID)
}

func TestPackageUpload(t *testing.T) {
	env := setupCLITestEnv(t)
	pkg := env.addPackage(t, "/hot/lecture.mp4", store.StateWaitingForUpload)

	if _, _, err := runCLI(t, []string{"package", "upload", pkg.ID}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected missing --platform to fail")
	}
	if _, _, err := runCLI(t, []string{"watcher", "start"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("watcher start: %v", err)
	}
	if _, _, err := runCLI(t, []string{"package", "upload", "--platform", "nowhere", pkg.ID}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unknown platform to fail")
	}
	out, _, err := runCLI(t, []string{"package", "upload", "--platform", "fake", pkg.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package upload: %v", err)
	}
	requireContains(t, out, "Uploading to fake "+pkg.ID)
}

func TestPackagePublishAndUnpublish(t *testing.T) {
	env := setupCLITestEnv(t)
	pkg := env.addPackage(t, "/hot/lecture.mp4", store.StateReady)

	out, _, err := runCLI(t, []string{"package", "publish", pkg.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package publish: %v", err)
	}
	requireContains(t, out, "Published "+pkg.ID+" (PUBLISHED)")

	out, _, err = runCLI(t, []string{"package", "unpublish", pkg.ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("package unpublish: %v", err)
	}
	requireContains(t, out, "Unpublished "+pkg.ID+" (READY)")
}

func TestPackageRemoveReportsEveryFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	pkg := env.addPackage(t, "/hot/lecture.mp4", store.StateReady)

	out, _, err := runCLI(t, []string{"package", "remove", pkg.ID, "missing-a", "missing-b"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected removal of unknown packages to fail")
	}
	requireContains(t, out, "Removed "+pkg.ID)
	requireContains(t, err.Error(), "remove missing-a")
	requireContains(t, err.Error(), "remove missing-b")
}

func TestCommandsExplainMissingDaemon(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	socket := filepath.Join(t.TempDir(), "absent.sock")
	_, _, err := runCLI(t, []string{"status"}, socket, "")
	if err == nil {
		t.Fatal("expected dial failure")
	}
	requireContains(t, err.Error(), "mediapub daemon")
}

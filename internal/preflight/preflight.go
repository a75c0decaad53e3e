package preflight

import (
	"context"
	"fmt"

	"mediapub/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Public directory", cfg.Paths.PublicDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	for i, folder := range cfg.Watcher.HotFolders {
		results = append(results, CheckDirectoryAccess(fmt.Sprintf("Hot folder %d", i+1), folder.Path))
	}
	for _, status := range CheckSystemDeps(cfg) {
		if status.Optional && !status.Available {
			continue
		}
		detail := status.Detail
		if status.Available {
			detail = status.Command
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail})
	}
	if len(cfg.Notifications.Brokers) > 0 {
		results = append(results, CheckBrokers(ctx, cfg.Notifications.Brokers))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

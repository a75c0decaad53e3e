package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediapub/internal/api"
	"mediapub/internal/ipc"
	"mediapub/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, watcher and package status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Status)
				}
				out := cmd.OutOrStdout()
				for _, line := range statusLines(resp.Status, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func statusLines(status api.DaemonStatus, colorize bool) []string {
	lines := renderSectionHeader("System", colorize)
	daemonKind, daemonMsg := statusError, "Not running"
	if status.Running {
		daemonKind, daemonMsg = statusOK, fmt.Sprintf("Running (pid %d)", status.PID)
	}
	lines = append(lines, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))
	lines = append(lines, watcherLine(status.Watcher, colorize))
	lines = append(lines, renderDetailLine("Database", status.DatabasePath))
	if status.MetricsBind != "" {
		lines = append(lines, renderDetailLine("Metrics", status.MetricsBind))
	}
	platforms := "none"
	if len(status.Platforms) > 0 {
		platforms = strings.Join(status.Platforms, ", ")
	}
	lines = append(lines, renderDetailLine("Platforms", platforms))

	if len(status.Dependencies) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
		lines = append(lines, dependencyLines(status.Dependencies, colorize)...)
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Packages", colorize)...)
	states := make([]string, 0, len(store.AllStates()))
	for _, state := range store.AllStates() {
		states = append(states, state.String())
	}
	counts := api.CountsInStateOrder(status.Workflow.Counts, states)
	if len(counts) == 0 {
		lines = append(lines, statusIndent+"No packages")
	} else {
		rows := make([][]string, 0, len(counts))
		for _, c := range counts {
			rows = append(rows, []string{colorizeState(c.State, colorize), strconv.Itoa(c.Count)})
		}
		rows = append(rows, []string{"TOTAL", strconv.Itoa(status.Workflow.Total)})
		lines = append(lines, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	if status.Workflow.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
	}
	if last := status.Workflow.LastPackage; last != nil {
		lines = append(lines, renderDetailLine("Last package", fmt.Sprintf("%s %s (%s)", last.ID, last.Name, last.State)))
	}
	return lines
}

func dependencyLines(deps []api.Dependency, colorize bool) []string {
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		switch {
		case dep.Available:
			lines = append(lines, renderStatusLine(dep.Name, statusOK, "Ready (command: "+dep.Command+")", colorize))
		case dep.Optional:
			lines = append(lines, renderStatusLine(dep.Name, statusWarn, "optional; "+dep.Detail, colorize))
		default:
			lines = append(lines, renderStatusLine(dep.Name, statusError, dep.Detail, colorize))
		}
	}
	return lines
}

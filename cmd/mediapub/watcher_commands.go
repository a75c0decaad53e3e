package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediapub/internal/ipc"
)

func newWatcherCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watcher",
		Short: "Control the hot folder watcher",
	}
	cmd.AddCommand(newWatcherStatusCommand(ctx))
	cmd.AddCommand(newWatcherStartCommand(ctx))
	cmd.AddCommand(newWatcherStopCommand(ctx))
	return cmd
}

func newWatcherStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the watcher worker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WatcherStatus()
				if err != nil {
					return err
				}
				return printWatcher(cmd, resp.Watcher, jsonOutput)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func newWatcherStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the watcher worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WatcherStart()
				if err != nil {
					return err
				}
				return printWatcher(cmd, resp.Watcher, false)
			})
		},
	}
}

func newWatcherStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the watcher worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WatcherStop()
				if err != nil {
					return err
				}
				return printWatcher(cmd, resp.Watcher, false)
			})
		},
	}
}

func printWatcher(cmd *cobra.Command, status ipc.WatcherStatus, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd, status)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, watcherLine(status, shouldColorize(out)))
	return nil
}

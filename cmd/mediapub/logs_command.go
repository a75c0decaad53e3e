package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mediapub/internal/logs"
)

const maxLogLines = 10000

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var packageID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogPath()
			if path == "" {
				return errors.New("file logging is disabled (paths.log_dir is empty)")
			}
			if lines < 0 || lines > maxLogLines {
				return fmt.Errorf("--lines must be between 0 and %d", maxLogLines)
			}

			filter := logs.Filter{Match: packageID}
			out := cmd.OutOrStdout()
			result, err := logs.Tail(path, lines, filter)
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			followCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return logs.Follow(followCtx, path, result.Offset, filter, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing appended lines")
	cmd.Flags().StringVar(&packageID, "package", "", "Only show lines mentioning this package id")
	return cmd
}

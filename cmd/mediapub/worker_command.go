package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mediapub/internal/logging"
	"mediapub/internal/worker"
)

// newWatcherWorkerCommand is the entry point of the process the daemon
// supervises. Protocol messages travel on stdin and stdout; logs go to stderr.
func newWatcherWorkerCommand(ctx *commandContext) *cobra.Command {
	var root string
	var database string
	var anonymousUser string

	cmd := &cobra.Command{
		Use:    "watcher-worker",
		Short:  "Run the hot folder watcher worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if root = strings.TrimSpace(root); root != "" {
				cfg.Paths.WorkDir = root
				if err := cfg.EnsureDirectories(); err != nil {
					return err
				}
			}

			logger, err := logging.NewWorker(cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			base := cmd.Context()
			if base == nil {
				base = context.Background()
			}
			runCtx, cancel := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			err = worker.Run(runCtx, worker.Options{
				Config:        cfg,
				DatabasePath:  strings.TrimSpace(database),
				AnonymousUser: anonymousUser,
				In:            os.Stdin,
				Out:           os.Stdout,
				Logger:        logger,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher worker exited", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Working directory for package processing")
	cmd.Flags().StringVar(&database, "database", "", "Package database path")
	cmd.Flags().StringVar(&anonymousUser, "anonymous-user", "", "User recorded on packages found by the watcher")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mediapub/internal/daemon"
	"mediapub/internal/ipc"
	"mediapub/internal/logging"
	"mediapub/internal/store"
)

const daemonShutdownTimeout = 30 * time.Second

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the mediapub daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("open package store", zap.Error(err))
		return err
	}

	d, err := daemon.New(cfg, st, logger, daemon.Options{ConfigPath: ctx.loadedConfigPath()})
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// The lock must be held before the socket is replaced.
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, ctx.socketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("control socket ready",
		zap.String("socket", ctx.socketPath()),
		zap.String("database", cfg.DatabasePath()),
	)

	<-signalCtx.Done()
	logger.Info("mediapub daemon shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), daemonShutdownTimeout)
	defer stopCancel()
	d.Stop(stopCtx)
	return nil
}

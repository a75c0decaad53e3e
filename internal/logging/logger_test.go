package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mediapub/internal/config"
	"mediapub/internal/logging"
	"mediapub/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello file")
	logger.Sync() //nolint:errcheck // ignore sync errors on stdout

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "mediapub.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello file") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")
	logger.Sync() //nolint:errcheck

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")
	logger.Sync() //nolint:errcheck

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLoggerEmitsFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", zap.String("k", "v"))
	logger.Sync() //nolint:errcheck

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"k":"v"`) {
		t.Fatalf("expected json field, got %q", content)
	}
}

func TestUnsupportedFormatFails(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	logger, err := logging.New(logging.Options{Format: "console", Level: "invalid"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug to be disabled")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be enabled")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPackageID(ctx, "pkg-123")
	ctx = services.WithTransition(ctx, "upload")
	ctx = services.WithRequestID(ctx, "req-xyz")

	core, observed := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	logging.WithContext(ctx, logger).Info("contextual log")

	records := observed.All()
	if len(records) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(records))
	}
	fields := records[0].ContextMap()
	if fields[logging.FieldPackageID] != "pkg-123" {
		t.Fatalf("unexpected package id field: %v", fields[logging.FieldPackageID])
	}
	if fields[logging.FieldTransition] != "upload" {
		t.Fatalf("unexpected transition field: %v", fields[logging.FieldTransition])
	}
	if fields[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("unexpected correlation field: %v", fields[logging.FieldCorrelationID])
	}
}

func TestComponentTagsLogger(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	logging.Component(zap.New(core), "watcher").Info("tagged")
	entries := observed.FilterField(zap.String(logging.FieldComponent, "watcher")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one tagged entry, got %d", len(entries))
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"mediapub/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func renderDetailLine(label, value string) string {
	return fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", value)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

// stateKind maps a package state name onto a status colour.
func stateKind(state string) statusKind {
	switch state {
	case "READY", "PUBLISHED":
		return statusOK
	case "ERROR":
		return statusError
	case "PENDING", "WAITING_FOR_UPLOAD", "MERGING":
		return statusWarn
	default:
		return statusInfo
	}
}

func colorizeState(state string, colorize bool) string {
	if !colorize {
		return state
	}
	return statusKindColor(stateKind(state)) + state + ansiReset
}

func watcherLine(w ipc.WatcherStatus, colorize bool) string {
	kind := statusInfo
	switch w.Status {
	case "started":
		kind = statusOK
	case "starting", "stopping":
		kind = statusWarn
	}
	if w.Status == "stopped" && w.LastError != "" {
		kind = statusError
	}
	message := w.Status
	if w.PID > 0 {
		message += fmt.Sprintf(" (pid %d)", w.PID)
	}
	if w.Restarts > 0 {
		message += fmt.Sprintf(", %d restarts", w.Restarts)
	}
	if w.LastError != "" {
		message += ": " + w.LastError
	}
	return renderStatusLine("Watcher", kind, message, colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

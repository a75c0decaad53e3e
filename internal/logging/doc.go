// Package logging assembles structured zap loggers used across mediapub
// services.
//
// It owns the console/JSON encoder choice, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code automatically
// tags log lines with package ids, transitions, platforms, and correlation
// ids. The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging

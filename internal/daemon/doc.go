// Package daemon coordinates the long-running mediapub process.
//
// It wires configuration, the package store, the platform registry and the
// watcher supervisor into a single lifecycle with flock-based locking to
// prevent multiple instances. The daemon exposes the operator operations
// (watcher control, retry, forced upload, publish, remove), checks each one
// against the configured capabilities and serves Prometheus metrics.
//
// Keep orchestration logic here: package processing lives in the workflow
// package and runs inside the watcher worker, while the daemon focuses on
// startup, shutdown and operator requests.
package daemon

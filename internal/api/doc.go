// Package api defines wire-format types and converters for the control
// socket. It translates store records into transport-friendly DTOs that the
// CLI can render without coupling to internal types.
//
// # Key Types
//
// Package: transport representation of a package with its state, failure
// code, remote media and delivery sources.
//
// WorkflowStatus: package counts per state and the last failure.
//
// DaemonStatus: aggregated runtime information including the watcher.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. States and failure codes are exposed by
// name next to their numeric value. Timestamps use RFC3339 with
// milliseconds. Metadata is passed through as json.RawMessage.
package api

// Package services carries request-scoped values (package id, transition,
// platform, correlation id) through context so log lines emitted deep in the
// pipeline can be tagged without threading extra parameters.
package services

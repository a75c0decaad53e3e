// Package notifications publishes package lifecycle events for downstream
// consumers (catalog indexers, CDN purgers, dashboards).
//
// The default implementation writes JSON messages keyed by package id to the
// Kafka topic configured in config.toml and degrades to a no-op when no
// brokers are configured. Workflow code depends only on the Service
// interface.
package notifications

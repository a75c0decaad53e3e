// Package config loads, normalizes, and validates mediapub configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies MEDIAPUB_* environment overrides.
// The Config type centralizes every knob the daemon, the watcher worker, and
// the CLI need, including the hot folder list and the configured upload
// platforms.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

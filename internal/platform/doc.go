// Package platform defines the contract every remote media platform
// implements and the registry that builds configured providers.
//
// A Provider uploads a local media file and returns a remote id, reports
// whether uploaded media are ready for delivery (and where to fetch them),
// pushes descriptive metadata, and removes remote media. Providers are
// constructed once from the `[[platforms]]` configuration entries, are
// immutable afterwards and are shared across goroutines.
//
// Provider-specific settings are decoded from the free-form TOML table of
// each entry into a typed struct and checked with `validate` tags, so a
// missing required field fails at startup rather than mid-upload.
package platform

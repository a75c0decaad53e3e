// Package store persists publication packages and operator settings in
// SQLite.
//
// Packages are stored as one row per package with list-valued fields kept as
// JSON columns. Queries are composed from Condition values (equality, set
// membership, free-text search) so callers never build SQL by hand. The store
// is the single source of truth for a package's progress; only the workflow
// manager mutates package state.
package store

// Package packagetype decides how an ingested file is processed.
//
// The variant (archive package or single video) is chosen from the file
// name, and for archive packages the manifest format version is chosen from
// marker files found after extraction: metadata.json (version 2) is preferred
// over the older synchro.xml (version 1). Both formats decode to a common
// Manifest used by validation and the later pipeline steps.
package packagetype

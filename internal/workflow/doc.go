// Package workflow drives packages through the publication state machine.
//
// The Manager owns an ordered transition table (copy, extract, validate,
// optional media steps, prepare, upload, synchronize, the merge handshake,
// timecodes, images, cleanup). Every transition persists its processing state
// before it runs and records itself as the package's last transition when it
// succeeds, so a package interrupted by a crash or a failure re-enters the
// table at the successor of its last completed step. Failures park the package
// in ERROR with a numeric failure code; nothing is retried automatically.
//
// At most one goroutine drives a given package. Uploads are bounded by a
// semaphore sized from pipeline.max_concurrent_uploads, and packages sharing
// a logical name are merged through an advisory lock derived from their
// persisted states.
package workflow

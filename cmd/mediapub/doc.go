// Command mediapub is the operator CLI and daemon of the media publication
// pipeline.
//
// `mediapub daemon` runs the long-lived process that owns the watcher worker
// and serves the control socket; the remaining commands talk to it over
// JSON-RPC. The hidden `watcher-worker` command is the process the daemon
// supervises.
package main

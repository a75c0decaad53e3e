// Package logs reads the daemon log file for `mediapub logs`.
//
// Tail returns the last lines of a file with bounded memory and the offset to
// continue from; Follow then streams appended lines until the context ends,
// waking on fsnotify write events and restarting from the top when the file
// is truncated or replaced.
package logs

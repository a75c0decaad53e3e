// Package preflight provides readiness checks for the directories, media
// binaries and brokers mediapub depends on.
//
// The daemon reports CheckSystemDeps in its status payload; `mediapub config
// validate` prints RunAll. Checks for disabled features are skipped.
package preflight

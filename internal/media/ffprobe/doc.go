// Package ffprobe runs ffprobe and decodes the fields the publication
// pipeline records for a media file: stream dimensions, container duration,
// format family and embedded title.
//
// Primary entry point:
//   - Inspect: executes ffprobe and returns a parsed Result
package ffprobe

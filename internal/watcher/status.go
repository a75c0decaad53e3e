package watcher

import "strings"

// Status is the lifecycle state of a Watcher.
type Status int

const (
	StatusStarting Status = iota
	StatusStarted
	StatusStopping
	StatusStopped
)

var statusNames = map[Status]string{
	StatusStarting: "starting",
	StatusStarted:  "started",
	StatusStopping: "stopping",
	StatusStopped:  "stopped",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus maps a lowercase status name back to its value.
func ParseStatus(value string) (Status, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for status, name := range statusNames {
		if name == value {
			return status, true
		}
	}
	return StatusStopped, false
}

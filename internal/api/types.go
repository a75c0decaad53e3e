package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Package describes a package in a transport-friendly format.
type Package struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	OriginalPath   string          `json:"originalPath"`
	Type           string          `json:"type"`
	Platform       string          `json:"platform,omitempty"`
	State          string          `json:"state"`
	StateCode      int             `json:"stateCode"`
	LastState      string          `json:"lastState,omitempty"`
	LastTransition string          `json:"lastTransition,omitempty"`
	ErrorCode      int             `json:"errorCode,omitempty"`
	ErrorName      string          `json:"errorName,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	MediaIDs       []string        `json:"mediaIds,omitempty"`
	MediaHeights   []int           `json:"mediaHeights,omitempty"`
	Sources        Sources         `json:"sources"`
	Timecodes      int             `json:"timecodes"`
	Published      bool            `json:"published"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Source is a single delivery descriptor.
type Source struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Sources groups adaptive manifests and progressive files.
type Sources struct {
	Adaptive []Source `json:"adaptive,omitempty"`
	Files    []Source `json:"files,omitempty"`
}

// WorkflowStatus summarizes the packages known to the store.
type WorkflowStatus struct {
	Counts      map[string]int `json:"counts"`
	Total       int            `json:"total"`
	LastError   string         `json:"lastError,omitempty"`
	LastPackage *Package       `json:"lastPackage,omitempty"`
}

// WatcherStatus mirrors the supervised watcher worker.
type WatcherStatus struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	PID        int    `json:"pid,omitempty"`
	Restarts   int    `json:"restarts"`
	LastError  string `json:"lastError,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	MetricsBind  string         `json:"metricsBind,omitempty"`
	Platforms    []string       `json:"platforms"`
	Watcher      WatcherStatus  `json:"watcher"`
	Workflow     WorkflowStatus `json:"workflow"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
}

// Dependency reports the availability of an external binary.
type Dependency struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

package ipc

import "mediapub/internal/api"

// ServiceName is the name the daemon registers its RPC service under.
const ServiceName = "Mediapub"

// Package mirrors the API package DTO for IPC callers.
type Package = api.Package

// WatcherStatus mirrors the API watcher DTO.
type WatcherStatus = api.WatcherStatus

// WatcherStatusRequest fetches the mirrored watcher status.
type WatcherStatusRequest struct{}

// WatcherStatusResponse carries the watcher status.
type WatcherStatusResponse struct {
	Watcher WatcherStatus `json:"watcher"`
}

// WatcherStartRequest starts the watcher worker.
type WatcherStartRequest struct{}

// WatcherStartResponse reports the status after the start completed.
type WatcherStartResponse struct {
	Watcher WatcherStatus `json:"watcher"`
}

// WatcherStopRequest stops the watcher worker.
type WatcherStopRequest struct{}

// WatcherStopResponse reports the status after the stop completed.
type WatcherStopResponse struct {
	Watcher WatcherStatus `json:"watcher"`
}

// RetryPackagesRequest resumes packages by id.
type RetryPackagesRequest struct {
	IDs []string `json:"ids"`
}

// RetryPackagesResponse lists the packages the worker scheduled.
type RetryPackagesResponse struct {
	IDs []string `json:"ids"`
}

// UploadPackagesRequest forces an upload of packages to a platform.
type UploadPackagesRequest struct {
	IDs      []string `json:"ids"`
	Platform string   `json:"platform"`
}

// UploadPackagesResponse lists the packages the worker scheduled.
type UploadPackagesResponse struct {
	IDs []string `json:"ids"`
}

// PackageListRequest filters the package listing.
type PackageListRequest struct {
	States   []string `json:"states"`
	Platform string   `json:"platform"`
	Search   string   `json:"search"`
	Limit    int      `json:"limit"`
}

// PackageListResponse contains packages, newest first.
type PackageListResponse struct {
	Packages []Package `json:"packages"`
}

// PackageDescribeRequest fetches a single package by id.
type PackageDescribeRequest struct {
	ID string `json:"id"`
}

// PackageDescribeResponse returns a package.
type PackageDescribeResponse struct {
	Package Package `json:"package"`
}

// PackageRemoveRequest removes a package.
type PackageRemoveRequest struct {
	ID string `json:"id"`
}

// PackageRemoveResponse confirms the removal.
type PackageRemoveResponse struct {
	Removed bool `json:"removed"`
}

// PackagePublishRequest publishes a package, or unpublishes it when
// Publish is false.
type PackagePublishRequest struct {
	ID      string `json:"id"`
	Publish bool   `json:"publish"`
}

// PackagePublishResponse returns the updated package.
type PackagePublishResponse struct {
	Package Package `json:"package"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon, watcher and workflow status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

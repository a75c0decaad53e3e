package store

import (
	"fmt"
	"strings"
	"time"

	"mediapub/internal/failure"
)

// State is the persisted lifecycle position of a package.
type State int

const (
	StateError State = iota
	StatePending
	StateCopying
	StateExtracting
	StateValidating
	StatePreparing
	StateWaitingForUpload
	StateUploading
	StateSynchronizing
	StateSavingTimecodes
	StateCopyingImages
	StateReady
	StatePublished
	StateGenerateThumb
	StateGetMetadata
	StateDefragmentMP4
	StateMerging
)

var stateNames = [...]string{
	StateError:            "ERROR",
	StatePending:          "PENDING",
	StateCopying:          "COPYING",
	StateExtracting:       "EXTRACTING",
	StateValidating:       "VALIDATING",
	StatePreparing:        "PREPARING",
	StateWaitingForUpload: "WAITING_FOR_UPLOAD",
	StateUploading:        "UPLOADING",
	StateSynchronizing:    "SYNCHRONIZING",
	StateSavingTimecodes:  "SAVING_TIMECODES",
	StateCopyingImages:    "COPYING_IMAGES",
	StateReady:            "READY",
	StatePublished:        "PUBLISHED",
	StateGenerateThumb:    "GENERATE_THUMB",
	StateGetMetadata:      "GET_METADATA",
	StateDefragmentMP4:    "DEFRAGMENT_MP4",
	StateMerging:          "MERGING",
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Valid reports whether s belongs to the closed state set.
func (s State) Valid() bool {
	return s >= StateError && int(s) < len(stateNames)
}

// Finished reports whether forward progress stops at s.
func (s State) Finished() bool {
	return s == StateError || s == StateReady || s == StatePublished
}

// Available reports whether a package in s carries usable remote media.
func (s State) Available() bool {
	return s == StateReady || s == StatePublished
}

// ParseState resolves a state by name or number.
func ParseState(value string) (State, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for i, name := range stateNames {
		if name == normalized {
			return State(i), true
		}
	}
	var n int
	if _, err := fmt.Sscanf(normalized, "%d", &n); err == nil && State(n).Valid() {
		return State(n), true
	}
	return StateError, false
}

// AllStates returns every state in numeric order.
func AllStates() []State {
	out := make([]State, len(stateNames))
	for i := range stateNames {
		out[i] = State(i)
	}
	return out
}

// Source is one delivery descriptor returned by a platform.
type Source struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Height   int    `json:"height,omitempty"`
	MediaID  string `json:"mediaId,omitempty"`
}

// Sources groups adaptive manifests and progressive file links.
type Sources struct {
	Adaptive []Source `json:"adaptive,omitempty"`
	Files    []Source `json:"files,omitempty"`
}

// Empty reports whether no delivery descriptor is present.
func (s Sources) Empty() bool {
	return len(s.Adaptive) == 0 && len(s.Files) == 0
}

// Timecode is a point of interest with its image and sprite coordinates.
type Timecode struct {
	Timecode float64 `json:"timecode"`
	Image    string  `json:"image"`
	Sprite   string  `json:"sprite,omitempty"`
	X        int     `json:"x,omitempty"`
	Y        int     `json:"y,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
}

// PackageType discriminates archive packages from bare video files.
type PackageType string

const (
	PackageTypeArchive PackageType = "archive"
	PackageTypeVideo   PackageType = "video"
)

// Package is the persisted record of one media item moving through the pipeline.
type Package struct {
	ID             string
	Name           string
	OriginalPath   string
	PackageType    PackageType
	Platform       string
	State          State
	LastState      State
	LastTransition string
	ErrorCode      failure.Code
	ErrorMessage   string
	MediaIDs       []string
	MediasHeights  []int
	Sources        Sources
	Timecodes      []Timecode
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Metadata keys written by the pipeline.
const (
	MetaUploader      = "uploader"
	MetaGroup         = "group"
	MetaHotFolder     = "hotFolder"
	MetaTitle         = "title"
	MetaArchiveFormat = "archiveVersion"
	MetaMediaFiles    = "mediaFiles"
	MetaMediaHeights  = "mediaHeights"
	MetaMergeWith     = "mergeWith"
	MetaMergePrevious = "mergePreviousState"
	MetaPublish       = "publish"
	MetaThumb         = "thumb"
	MetaDuration      = "duration"
	MetaUploadedBytes = "uploadedBytes"
	MetaSourceSize    = "sourceSize"
	MetaSourceModTime = "sourceModTime"
	MetaMergedSources = "mergedSources"
)

// MetaString returns a string metadata value.
func (p *Package) MetaString(key string) string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a boolean metadata value.
func (p *Package) MetaBool(key string) bool {
	if p == nil || p.Metadata == nil {
		return false
	}
	v, ok := p.Metadata[key].(bool)
	return ok && v
}

// MetaInt returns an integer metadata value.
func (p *Package) MetaInt(key string) (int, bool) {
	f, ok := p.MetaFloat(key)
	return int(f), ok
}

// MetaFloat returns a numeric metadata value.
func (p *Package) MetaFloat(key string) (float64, bool) {
	if p == nil || p.Metadata == nil {
		return 0, false
	}
	switch v := p.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// MetaStrings returns a string list metadata value. JSON round trips turn
// []string into []any, so both shapes are accepted.
func (p *Package) MetaStrings(key string) []string {
	if p == nil || p.Metadata == nil {
		return nil
	}
	switch v := p.Metadata[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MetaInts returns an integer list metadata value, accepting the float64
// elements JSON decoding produces.
func (p *Package) MetaInts(key string) []int {
	if p == nil || p.Metadata == nil {
		return nil
	}
	switch v := p.Metadata[key].(type) {
	case []int:
		return append([]int(nil), v...)
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, int(n))
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			}
		}
		return out
	default:
		return nil
	}
}

// SetMeta stores a metadata value, allocating the map when needed.
func (p *Package) SetMeta(key string, value any) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	if value == nil {
		delete(p.Metadata, key)
		return
	}
	p.Metadata[key] = value
}

// Clone returns a deep copy so callers can mutate without racing the original.
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	out := *p
	out.MediaIDs = append([]string(nil), p.MediaIDs...)
	out.MediasHeights = append([]int(nil), p.MediasHeights...)
	out.Sources = Sources{
		Adaptive: append([]Source(nil), p.Sources.Adaptive...),
		Files:    append([]Source(nil), p.Sources.Files...),
	}
	out.Timecodes = append([]Timecode(nil), p.Timecodes...)
	if p.Metadata != nil {
		out.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

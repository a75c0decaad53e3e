package api

import (
	"encoding/json"
	"time"

	"mediapub/internal/store"
	"mediapub/internal/workflow"
)

// FromPackage converts a store record to its API representation.
func FromPackage(pkg *store.Package) Package {
	if pkg == nil {
		return Package{}
	}
	dto := Package{
		ID:             pkg.ID,
		Name:           pkg.Name,
		OriginalPath:   pkg.OriginalPath,
		Type:           string(pkg.PackageType),
		Platform:       pkg.Platform,
		State:          pkg.State.String(),
		StateCode:      int(pkg.State),
		LastTransition: pkg.LastTransition,
		ErrorMessage:   pkg.ErrorMessage,
		MediaIDs:       append([]string(nil), pkg.MediaIDs...),
		MediaHeights:   append([]int(nil), pkg.MediasHeights...),
		Sources:        fromSources(pkg.Sources),
		Timecodes:      len(pkg.Timecodes),
		Published:      pkg.State == store.StatePublished,
		CreatedAt:      FormatTime(pkg.CreatedAt),
		UpdatedAt:      FormatTime(pkg.UpdatedAt),
	}
	if pkg.State == store.StateError {
		dto.LastState = pkg.LastState.String()
	}
	if pkg.ErrorCode != 0 {
		dto.ErrorCode = int(pkg.ErrorCode)
		dto.ErrorName = pkg.ErrorCode.String()
	}
	if len(pkg.Metadata) > 0 {
		if raw, err := json.Marshal(pkg.Metadata); err == nil {
			dto.Metadata = raw
		}
	}
	return dto
}

// FromPackages converts a slice of store records into API DTOs.
func FromPackages(pkgs []*store.Package) []Package {
	if len(pkgs) == 0 {
		return nil
	}
	out := make([]Package, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pkg == nil {
			continue
		}
		out = append(out, FromPackage(pkg))
	}
	return out
}

func fromSources(src store.Sources) Sources {
	convert := func(in []store.Source) []Source {
		if len(in) == 0 {
			return nil
		}
		out := make([]Source, 0, len(in))
		for _, s := range in {
			out = append(out, Source{URL: s.URL, MimeType: s.MimeType, Height: s.Height})
		}
		return out
	}
	return Sources{Adaptive: convert(src.Adaptive), Files: convert(src.Files)}
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Counts:    MergeStateCounts(summary.Counts),
		LastError: summary.LastError,
	}
	for _, count := range summary.Counts {
		wf.Total += count
	}
	if summary.LastPackage != nil {
		last := FromPackage(summary.LastPackage)
		wf.LastPackage = &last
	}
	return wf
}

// MergeStateCounts produces a name-keyed representation of state counts.
func MergeStateCounts(counts map[store.State]int) map[string]int {
	out := make(map[string]int, len(counts))
	for state, count := range counts {
		out[state.String()] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses timestamps produced by FormatTime. The zero time is
// returned for empty or malformed values.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

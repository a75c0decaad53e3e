package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mediapub/internal/failure"
)

const packageColumns = "id, name, original_path, package_type, platform, state, last_state, last_transition, error_code, error_message, media_ids_json, medias_heights_json, sources_json, timecodes_json, metadata_json, created_at, updated_at"

func scanPackage(scanner interface{ Scan(dest ...any) error }) (*Package, error) {
	var (
		id             string
		name           string
		originalPath   string
		packageType    string
		platform       sql.NullString
		state          int
		lastState      int
		lastTransition sql.NullString
		errorCode      int
		errorMessage   sql.NullString
		mediaIDs       sql.NullString
		heights        sql.NullString
		sources        sql.NullString
		timecodes      sql.NullString
		metadata       sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&name,
		&originalPath,
		&packageType,
		&platform,
		&state,
		&lastState,
		&lastTransition,
		&errorCode,
		&errorMessage,
		&mediaIDs,
		&heights,
		&sources,
		&timecodes,
		&metadata,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	pkg := &Package{
		ID:             id,
		Name:           name,
		OriginalPath:   originalPath,
		PackageType:    PackageType(packageType),
		Platform:       platform.String,
		State:          State(state),
		LastState:      State(lastState),
		LastTransition: lastTransition.String,
		ErrorCode:      failure.Code(errorCode),
		ErrorMessage:   errorMessage.String,
	}
	if err := decodeJSON(mediaIDs, &pkg.MediaIDs); err != nil {
		return nil, fmt.Errorf("decode media ids: %w", err)
	}
	if err := decodeJSON(heights, &pkg.MediasHeights); err != nil {
		return nil, fmt.Errorf("decode medias heights: %w", err)
	}
	if err := decodeJSON(sources, &pkg.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if err := decodeJSON(timecodes, &pkg.Timecodes); err != nil {
		return nil, fmt.Errorf("decode timecodes: %w", err)
	}
	if err := decodeJSON(metadata, &pkg.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		pkg.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		pkg.UpdatedAt = updated
	}
	return pkg, nil
}

func decodeJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}

func encodeJSON(value any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

type encodedPackage struct {
	mediaIDs  any
	heights   any
	sources   any
	timecodes any
	metadata  any
}

func encodePackage(pkg *Package) (encodedPackage, error) {
	var (
		out encodedPackage
		err error
	)
	if out.mediaIDs, err = encodeJSON(pkg.MediaIDs, len(pkg.MediaIDs) == 0); err != nil {
		return out, fmt.Errorf("encode media ids: %w", err)
	}
	if out.heights, err = encodeJSON(pkg.MediasHeights, len(pkg.MediasHeights) == 0); err != nil {
		return out, fmt.Errorf("encode medias heights: %w", err)
	}
	if out.sources, err = encodeJSON(pkg.Sources, pkg.Sources.Empty()); err != nil {
		return out, fmt.Errorf("encode sources: %w", err)
	}
	if out.timecodes, err = encodeJSON(pkg.Timecodes, len(pkg.Timecodes) == 0); err != nil {
		return out, fmt.Errorf("encode timecodes: %w", err)
	}
	if out.metadata, err = encodeJSON(pkg.Metadata, len(pkg.Metadata) == 0); err != nil {
		return out, fmt.Errorf("encode metadata: %w", err)
	}
	return out, nil
}

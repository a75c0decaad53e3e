package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Create inserts a new package. An empty ID is assigned a fresh UUID and a
// zero state becomes PENDING.
func (s *Store) Create(ctx context.Context, pkg *Package) error {
	if pkg == nil {
		return errors.New("package is nil")
	}
	if pkg.OriginalPath == "" {
		return errors.New("package original path is required")
	}
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	if pkg.State == StateError && pkg.ErrorCode == 0 {
		pkg.State = StatePending
	}
	if pkg.LastState == StateError {
		pkg.LastState = StatePending
	}
	now := time.Now().UTC()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now

	enc, err := encodePackage(pkg)
	if err != nil {
		return err
	}
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO packages (
            id, name, name_key, original_path, package_type, platform, state, last_state,
            last_transition, error_code, error_message, media_ids_json, medias_heights_json,
            sources_json, timecodes_json, metadata_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.ID,
		pkg.Name,
		NameKey(pkg.Name),
		pkg.OriginalPath,
		string(pkg.PackageType),
		nullableString(pkg.Platform),
		int(pkg.State),
		int(pkg.LastState),
		nullableString(pkg.LastTransition),
		int(pkg.ErrorCode),
		nullableString(pkg.ErrorMessage),
		enc.mediaIDs,
		enc.heights,
		enc.sources,
		enc.timecodes,
		enc.metadata,
		formatTime(pkg.CreatedAt),
		formatTime(pkg.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

// Get fetches a package by identifier. Missing packages yield ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Package, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

// GetAll returns packages matching q.
func (s *Store) GetAll(ctx context.Context, q Query) ([]*Package, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var out []*Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, pkg)
	}
	return out, rows.Err()
}

// FindByName returns packages sharing the logical name, oldest first.
func (s *Store) FindByName(ctx context.Context, name string) ([]*Package, error) {
	return s.GetAll(ctx, Query{Where: Equal(FieldName, name), SortBy: FieldCreatedAt})
}

// Update persists every field of an existing package.
func (s *Store) Update(ctx context.Context, pkg *Package) error {
	if pkg == nil {
		return errors.New("package is nil")
	}
	pkg.UpdatedAt = time.Now().UTC()
	enc, err := encodePackage(pkg)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE packages
         SET name = ?, name_key = ?, original_path = ?, package_type = ?, platform = ?,
             state = ?, last_state = ?, last_transition = ?, error_code = ?, error_message = ?,
             media_ids_json = ?, medias_heights_json = ?, sources_json = ?, timecodes_json = ?,
             metadata_json = ?, updated_at = ?
         WHERE id = ?`,
		pkg.Name,
		NameKey(pkg.Name),
		pkg.OriginalPath,
		string(pkg.PackageType),
		nullableString(pkg.Platform),
		int(pkg.State),
		int(pkg.LastState),
		nullableString(pkg.LastTransition),
		int(pkg.ErrorCode),
		nullableString(pkg.ErrorMessage),
		enc.mediaIDs,
		enc.heights,
		enc.sources,
		enc.timecodes,
		enc.metadata,
		formatTime(pkg.UpdatedAt),
		pkg.ID,
	)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	return requireAffected(res, pkg.ID)
}

// SetState overwrites only the state column. It is used to flag another
// package during the merge handshake without touching fields its own worker
// may be writing.
func (s *Store) SetState(ctx context.Context, id string, state State) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE packages SET state = ?, updated_at = ? WHERE id = ?`,
		int(state), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set package state: %w", err)
	}
	return requireAffected(res, id)
}

// Remove deletes the package record.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM packages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove package: %w", err)
	}
	return requireAffected(res, id)
}

// CountByState returns the number of packages per state.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT state, COUNT(1) FROM packages GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count packages: %w", err)
	}
	defer rows.Close()
	counts := make(map[State]int)
	for rows.Next() {
		var state, count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[State(state)] = count
	}
	return counts, rows.Err()
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

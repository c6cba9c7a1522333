package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// MarkSyncStarted stamps last_sync at the start of a collector run.
// last_success and the error string are left alone until the run ends.
func (s *Store) MarkSyncStarted(ctx context.Context, source domain.Source, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (source, last_sync, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_sync = excluded.last_sync,
			updated_at = excluded.updated_at
	`, source, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("mark sync started %s: %w", source, err)
	}
	return nil
}

// MarkSyncSuccess records a completed run.
func (s *Store) MarkSyncSuccess(ctx context.Context, source domain.Source, items int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET last_success = ?, items_synced = ?, last_error = NULL, updated_at = ?
		WHERE source = ?
	`, fmtTime(now), items, fmtTime(now), source)
	if err != nil {
		return fmt.Errorf("mark sync success %s: %w", source, err)
	}
	return nil
}

// MarkSyncFailure records a classified failure; last_success survives.
func (s *Store) MarkSyncFailure(ctx context.Context, source domain.Source, message string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET last_error = ?, updated_at = ? WHERE source = ?
	`, message, fmtTime(now), source)
	if err != nil {
		return fmt.Errorf("mark sync failure %s: %w", source, err)
	}
	return nil
}

func scanSyncState(row interface{ Scan(...any) error }) (*domain.SyncState, error) {
	var st domain.SyncState
	var lastSync, lastSuccess, lastError, updatedAt sql.NullString
	if err := row.Scan(&st.Source, &lastSync, &lastSuccess, &st.ItemsSynced,
		&lastError, &updatedAt); err != nil {
		return nil, err
	}
	st.LastError = strOr(lastError)
	var err error
	if st.LastSync, err = scanTimePtr(lastSync); err != nil {
		return nil, err
	}
	if st.LastSuccess, err = scanTimePtr(lastSuccess); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetSyncState returns the bookkeeping row for one source, or nil when
// the source has never run.
func (s *Store) GetSyncState(ctx context.Context, source domain.Source) (*domain.SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, last_sync, last_success, items_synced, last_error, updated_at
		FROM sync_state WHERE source = ?
	`, source)
	st, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state %s: %w", source, err)
	}
	return st, nil
}

// ListSyncStates returns bookkeeping for every source that has run.
func (s *Store) ListSyncStates(ctx context.Context) ([]*domain.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, last_sync, last_success, items_synced, last_error, updated_at
		FROM sync_state ORDER BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	defer rows.Close()

	var out []*domain.SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

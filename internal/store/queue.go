package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// UpsertQueueItem records a detected issue. First detection inserts the
// row; re-detection touches last_seen_at and context only, keeping
// created_at as the age anchor. A previously auto-resolved row that
// fires again reopens.
func (s *Store) UpsertQueueItem(ctx context.Context, it *domain.QueueItem, now time.Time) error {
	if it.Priority < 1 || it.Priority > 5 {
		return fmt.Errorf("queue item priority %d out of range 1..5", it.Priority)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolution_queue (entity_type, entity_id, issue_type, priority, context,
			created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, issue_type) DO UPDATE SET
			priority = excluded.priority,
			context = excluded.context,
			last_seen_at = excluded.last_seen_at,
			resolved_at = CASE WHEN resolution_action = 'auto_resolved' THEN NULL ELSE resolved_at END,
			resolved_by = CASE WHEN resolution_action = 'auto_resolved' THEN NULL ELSE resolved_by END,
			resolution_action = CASE WHEN resolution_action = 'auto_resolved' THEN NULL ELSE resolution_action END
	`, it.EntityType, it.EntityID, it.IssueType, it.Priority, nullStr(it.Context),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert queue item %s/%s/%s: %w", it.EntityType, it.EntityID, it.IssueType, err)
	}
	return nil
}

// ResolveQueueItem closes an item. Returns ErrNotFound for unknown IDs
// and ErrAlreadyResolved when the row is already closed.
func (s *Store) ResolveQueueItem(ctx context.Context, id int64, by, action string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE resolution_queue SET resolved_at = ?, resolved_by = ?, resolution_action = ?
		WHERE id = ? AND resolved_at IS NULL
	`, fmtTime(now), by, action, id)
	if err != nil {
		return fmt.Errorf("resolve queue item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetQueueItem(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("queue item %d: %w", id, ErrAlreadyResolved)
	}
	return nil
}

// ErrAlreadyResolved marks a second resolution attempt on a closed item.
var ErrAlreadyResolved = errors.New("store: already resolved")

// SnoozeQueueItem hides an item from the inbox until the given time.
func (s *Store) SnoozeQueueItem(ctx context.Context, id int64, until, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE resolution_queue SET expires_at = ? WHERE id = ? AND resolved_at IS NULL
	`, fmtTime(until), id)
	if err != nil {
		return fmt.Errorf("snooze queue item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetQueueItem(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("queue item %d: %w", id, ErrAlreadyResolved)
	}
	return nil
}

// AutoResolveMissing closes unresolved items of the given issue types
// whose detection no longer fired this cycle (last_seen_at predates the
// cycle's detection pass). Human-snoozed rows auto-resolve too once the
// underlying condition clears.
func (s *Store) AutoResolveMissing(ctx context.Context, issueTypes []domain.IssueType, seenAfter, now time.Time) (int, error) {
	if len(issueTypes) == 0 {
		return 0, nil
	}
	placeholders := ""
	args := []any{fmtTime(now)}
	for i, t := range issueTypes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, t)
	}
	args = append(args, fmtTime(seenAfter))
	res, err := s.db.ExecContext(ctx, `
		UPDATE resolution_queue SET resolved_at = ?, resolved_by = 'system', resolution_action = 'auto_resolved'
		WHERE issue_type IN (`+placeholders+`) AND resolved_at IS NULL AND last_seen_at < ?
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("auto-resolve queue items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const queueColumns = `id, entity_type, entity_id, issue_type, priority, context,
	created_at, last_seen_at, expires_at, resolved_at, resolved_by, resolution_action`

func scanQueueItem(row interface{ Scan(...any) error }) (*domain.QueueItem, error) {
	var it domain.QueueItem
	var contextJSON, createdAt, lastSeen, expiresAt, resolvedAt, resolvedBy, action sql.NullString
	if err := row.Scan(&it.ID, &it.EntityType, &it.EntityID, &it.IssueType, &it.Priority,
		&contextJSON, &createdAt, &lastSeen, &expiresAt, &resolvedAt, &resolvedBy, &action); err != nil {
		return nil, err
	}
	it.Context = strOr(contextJSON)
	it.ResolvedBy = strOr(resolvedBy)
	it.ResolutionAction = strOr(action)
	var err error
	if it.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if it.LastSeenAt, err = scanTime(lastSeen); err != nil {
		return nil, err
	}
	if it.ExpiresAt, err = scanTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if it.ResolvedAt, err = scanTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

// GetQueueItem loads one item by ID.
func (s *Store) GetQueueItem(ctx context.Context, id int64) (*domain.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM resolution_queue WHERE id = ?", id)
	it, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item %d: %w", id, err)
	}
	return it, nil
}

// QueueFilter narrows ListQueueItems.
type QueueFilter struct {
	EntityType      domain.EntityType
	IssueType       domain.IssueType
	IncludeResolved bool
	IncludeSnoozed  bool
	Now             time.Time // snooze cutoff; zero means no snooze filter
	Limit           int
}

// ListQueueItems returns items ordered by priority (1 first) then age
// (oldest first). Resolved and snoozed rows are excluded by default.
func (s *Store) ListQueueItems(ctx context.Context, f QueueFilter) ([]*domain.QueueItem, error) {
	var conds []string
	var args []any
	if !f.IncludeResolved {
		conds = append(conds, "resolved_at IS NULL")
	}
	if !f.IncludeSnoozed && !f.Now.IsZero() {
		conds = append(conds, "(expires_at IS NULL OR expires_at <= ?)")
		args = append(args, fmtTime(f.Now))
	}
	if f.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.IssueType != "" {
		conds = append(conds, "issue_type = ?")
		args = append(args, f.IssueType)
	}

	q := "SELECT " + queueColumns + " FROM resolution_queue" + whereClause(conds) +
		" ORDER BY priority, created_at"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var out []*domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// QueueCounts returns open-item totals grouped by priority.
func (s *Store) QueueCounts(ctx context.Context, now time.Time) (total int, byPriority map[int]int, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT priority, COUNT(*) FROM resolution_queue
		WHERE resolved_at IS NULL AND (expires_at IS NULL OR expires_at <= ?)
		GROUP BY priority
	`, fmtTime(now))
	if err != nil {
		return 0, nil, fmt.Errorf("queue counts: %w", err)
	}
	defer rows.Close()

	byPriority = make(map[int]int)
	for rows.Next() {
		var p, n int
		if err := rows.Scan(&p, &n); err != nil {
			return 0, nil, err
		}
		byPriority[p] = n
		total += n
	}
	return total, byPriority, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// UpsertTask writes the source-owned task columns. Linkage columns
// (brand_id, client_id, the two link statuses) belong to the normalizer
// and are deliberately absent from the conflict SET list, so re-running
// a collector never regresses derived state.
func (s *Store) UpsertTask(ctx context.Context, t *domain.Task, now time.Time) error {
	if t.Status == "" {
		t.Status = domain.TaskOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, source, source_id, title, notes, status, priority, urgency, impact,
			due_date, duration_minutes, project_id, assignee_id, assignee_raw,
			blocked_since, last_activity_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			notes = excluded.notes,
			status = excluded.status,
			priority = excluded.priority,
			urgency = excluded.urgency,
			impact = excluded.impact,
			due_date = excluded.due_date,
			duration_minutes = excluded.duration_minutes,
			project_id = excluded.project_id,
			assignee_id = excluded.assignee_id,
			assignee_raw = excluded.assignee_raw,
			blocked_since = excluded.blocked_since,
			last_activity_at = excluded.last_activity_at,
			updated_at = excluded.updated_at
	`, t.ID, t.Source, t.SourceID, t.Title, nullStr(t.Notes), t.Status, t.Priority,
		t.Urgency, t.Impact, fmtTimePtr(t.DueDate), t.DurationMinutes,
		nullStr(t.ProjectID), nullStr(t.AssigneeID), nullStr(t.AssigneeRaw),
		fmtTimePtr(t.BlockedSince), fmtTimePtr(t.LastActivityAt),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// SetTaskLinkage writes the normalizer-owned linkage columns. Guarded:
// an identical derivation leaves the row byte-for-byte unchanged.
func (s *Store) SetTaskLinkage(ctx context.Context, id string, projectLink, clientLink domain.LinkStatus, brandID, clientID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			project_link_status = ?, client_link_status = ?, brand_id = ?, client_id = ?,
			updated_at = ?
		WHERE id = ? AND (
			project_link_status IS NOT ? OR client_link_status IS NOT ?
			OR brand_id IS NOT ? OR client_id IS NOT ?
		)
	`, projectLink, clientLink, nullStr(brandID), nullStr(clientID), fmtTime(now),
		id, projectLink, clientLink, nullStr(brandID), nullStr(clientID))
	if err != nil {
		return fmt.Errorf("set task linkage %s: %w", id, err)
	}
	return nil
}

// SetTaskProject attaches a task to a project, clearing stale linkage so
// the next normalizer pass re-derives the chain.
func (s *Store) SetTaskProject(ctx context.Context, id, projectID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET project_id = ?, project_link_status = 'unlinked',
			client_link_status = 'unlinked', brand_id = NULL, client_id = NULL,
			updated_at = ?
		WHERE id = ?
	`, nullStr(projectID), fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("set task project %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

const taskColumns = `id, source, source_id, title, notes, status, priority, urgency, impact,
	due_date, duration_minutes, project_id, assignee_id, assignee_raw, blocked_since,
	last_activity_at, brand_id, client_id, project_link_status, client_link_status,
	created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	var notes, dueDate, projectID, assigneeID, assigneeRaw sql.NullString
	var blockedSince, lastActivity, brandID, clientID, createdAt, updatedAt sql.NullString
	if err := row.Scan(&t.ID, &t.Source, &t.SourceID, &t.Title, &notes, &t.Status,
		&t.Priority, &t.Urgency, &t.Impact, &dueDate, &t.DurationMinutes, &projectID,
		&assigneeID, &assigneeRaw, &blockedSince, &lastActivity, &brandID, &clientID,
		&t.ProjectLinkStatus, &t.ClientLinkStatus, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Notes = strOr(notes)
	t.ProjectID = strOr(projectID)
	t.AssigneeID = strOr(assigneeID)
	t.AssigneeRaw = strOr(assigneeRaw)
	t.BrandID = strOr(brandID)
	t.ClientID = strOr(clientID)
	var err error
	if t.DueDate, err = scanTimePtr(dueDate); err != nil {
		return nil, err
	}
	if t.BlockedSince, err = scanTimePtr(blockedSince); err != nil {
		return nil, err
	}
	if t.LastActivityAt, err = scanTimePtr(lastActivity); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask loads one task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks. Zero fields are ignored.
type TaskFilter struct {
	Status      domain.TaskStatus
	NotStatus   domain.TaskStatus
	ProjectID   string
	ClientID    string
	ProjectLink domain.LinkStatus
	ClientLink  domain.LinkStatus
	Source      domain.Source
	DueBefore   *time.Time
	Limit       int
}

// ListTasks returns tasks matching the filter, highest priority first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*domain.Task, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.NotStatus != "" {
		conds = append(conds, "status != ?")
		args = append(args, f.NotStatus)
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.ProjectLink != "" {
		conds = append(conds, "project_link_status = ?")
		args = append(args, f.ProjectLink)
	}
	if f.ClientLink != "" {
		conds = append(conds, "client_link_status = ?")
		args = append(args, f.ClientLink)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.DueBefore != nil {
		conds = append(conds, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, fmtTime(*f.DueBefore))
	}

	q := "SELECT " + taskColumns + " FROM tasks" + whereClause(conds) +
		" ORDER BY priority DESC, due_date IS NULL, due_date"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindTaskByTitle matches a live task by case-insensitive exact title.
// Used to link calendar events to the work they are about.
func (s *Store) FindTaskByTitle(ctx context.Context, title string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE LOWER(title) = LOWER(?) AND status != 'done' LIMIT 1", title)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task titled %q: %w", title, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find task by title: %w", err)
	}
	return t, nil
}

// FindDoneTaskByTitle matches a completed task whose title appears in
// the given text. Used to mark commitments fulfilled.
func (s *Store) FindDoneTaskByTitle(ctx context.Context, text string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE status = 'done' AND title != '' AND INSTR(LOWER(?), LOWER(title)) > 0 LIMIT 1",
		text)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("done task in %q: %w", text, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find done task by title: %w", err)
	}
	return t, nil
}

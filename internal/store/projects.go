package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// UpsertProject writes the source-owned project columns, preserving
// derived rollups on conflict.
func (s *Store) UpsertProject(ctx context.Context, p *domain.Project, now time.Time) error {
	if p.Status == "" {
		p.Status = domain.ProjectActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, brand_id, client_id, name, status, is_internal, deadline, source, source_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			is_internal = excluded.is_internal,
			deadline = excluded.deadline,
			updated_at = excluded.updated_at
	`, p.ID, nullStr(p.BrandID), nullStr(p.ClientID), p.Name, p.Status, boolInt(p.IsInternal),
		fmtTimePtr(p.Deadline), p.Source, nullStr(p.SourceID), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ID, err)
	}
	return nil
}

// SetProjectLinks writes brand/client linkage resolved outside the
// collector (seeds or operator resolution).
func (s *Store) SetProjectLinks(ctx context.Context, id, brandID, clientID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET brand_id = ?, client_id = ?, updated_at = ?
		WHERE id = ? AND (brand_id IS NOT ? OR client_id IS NOT ?)
	`, nullStr(brandID), nullStr(clientID), fmtTime(now), id, nullStr(brandID), nullStr(clientID))
	if err != nil {
		return fmt.Errorf("set project links %s: %w", id, err)
	}
	return nil
}

// SetProjectRollup writes the normalizer-owned rollup columns, guarded
// so unchanged rows stay untouched.
func (s *Store) SetProjectRollup(ctx context.Context, id string, total, done int, completion, slip float64, color domain.HealthColor, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET
			tasks_total = ?, tasks_done = ?, completion_pct = ?, slip_risk = ?, health_color = ?,
			updated_at = ?
		WHERE id = ? AND (
			tasks_total IS NOT ? OR tasks_done IS NOT ? OR completion_pct IS NOT ?
			OR slip_risk IS NOT ? OR health_color IS NOT ?
		)
	`, total, done, completion, slip, color, fmtTime(now),
		id, total, done, completion, slip, color)
	if err != nil {
		return fmt.Errorf("set project rollup %s: %w", id, err)
	}
	return nil
}

const projectColumns = `id, brand_id, client_id, name, status, is_internal, deadline, source, source_id,
	health_color, tasks_total, tasks_done, completion_pct, slip_risk, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*domain.Project, error) {
	var p domain.Project
	var brandID, clientID, deadline, sourceID, createdAt, updatedAt sql.NullString
	var isInternal int
	if err := row.Scan(&p.ID, &brandID, &clientID, &p.Name, &p.Status, &isInternal,
		&deadline, &p.Source, &sourceID, &p.HealthColor, &p.TasksTotal, &p.TasksDone,
		&p.CompletionPct, &p.SlipRisk, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.BrandID = strOr(brandID)
	p.ClientID = strOr(clientID)
	p.SourceID = strOr(sourceID)
	p.IsInternal = isInternal != 0
	var err error
	if p.Deadline, err = scanTimePtr(deadline); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject loads one project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return p, nil
}

// ProjectFilter narrows ListProjects.
type ProjectFilter struct {
	ClientID string
	Status   domain.ProjectStatus
	Source   domain.Source
}

// ListProjects returns projects matching the filter, ordered by name.
func (s *Store) ListProjects(ctx context.Context, f ProjectFilter) ([]*domain.Project, error) {
	var conds []string
	var args []any
	if f.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}

	q := "SELECT " + projectColumns + " FROM projects" + whereClause(conds) + " ORDER BY name"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindProjectBySource resolves an external project reference.
func (s *Store) FindProjectBySource(ctx context.Context, source domain.Source, sourceID string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE source = ? AND source_id = ?", source, sourceID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s/%s: %w", source, sourceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find project %s/%s: %w", source, sourceID, err)
	}
	return p, nil
}

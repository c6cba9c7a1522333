package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// UpsertTeamMember writes a team member from seeds or an observed
// assignee.
func (s *Store) UpsertTeamMember(ctx context.Context, m *domain.TeamMember, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (id, source, source_id, name, email, role, weekly_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			weekly_hours = excluded.weekly_hours,
			updated_at = excluded.updated_at
	`, m.ID, m.Source, nullStr(m.SourceID), m.Name, nullStr(m.Email), nullStr(m.Role),
		m.WeeklyHours, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert team member %s: %w", m.ID, err)
	}
	return nil
}

// ListTeamMembers returns the whole team.
func (s *Store) ListTeamMembers(ctx context.Context) ([]*domain.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_id, name, email, role, weekly_hours, created_at, updated_at
		FROM team_members ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var out []*domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		var sourceID, email, role, createdAt, updatedAt sql.NullString
		if err := rows.Scan(&m.ID, &m.Source, &sourceID, &m.Name, &email, &role,
			&m.WeeklyHours, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		m.SourceID = strOr(sourceID)
		m.Email = strOr(email)
		m.Role = strOr(role)
		if m.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		if m.UpdatedAt, err = scanTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// UpsertCapacityLane writes a lane budget. Lane names are unique so seed
// files can re-declare them.
func (s *Store) UpsertCapacityLane(ctx context.Context, l *domain.CapacityLane, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capacity_lanes (id, name, owner_id, weekly_hours, committed_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			weekly_hours = excluded.weekly_hours,
			updated_at = excluded.updated_at
		ON CONFLICT(name) DO UPDATE SET
			owner_id = excluded.owner_id,
			weekly_hours = excluded.weekly_hours,
			updated_at = excluded.updated_at
	`, l.ID, l.Name, nullStr(l.OwnerID), l.WeeklyHours, l.CommittedHours,
		fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert capacity lane %s: %w", l.Name, err)
	}
	return nil
}

// SetLaneCommitted writes the derived committed-hours figure.
func (s *Store) SetLaneCommitted(ctx context.Context, id string, hours float64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE capacity_lanes SET committed_hours = ?, updated_at = ?
		WHERE id = ? AND committed_hours IS NOT ?
	`, hours, fmtTime(now), id, hours)
	if err != nil {
		return fmt.Errorf("set lane committed %s: %w", id, err)
	}
	return nil
}

// ListCapacityLanes returns all lanes.
func (s *Store) ListCapacityLanes(ctx context.Context) ([]*domain.CapacityLane, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_id, weekly_hours, committed_hours, created_at, updated_at
		FROM capacity_lanes ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list capacity lanes: %w", err)
	}
	defer rows.Close()

	var out []*domain.CapacityLane
	for rows.Next() {
		var l domain.CapacityLane
		var ownerID, createdAt, updatedAt sql.NullString
		if err := rows.Scan(&l.ID, &l.Name, &ownerID, &l.WeeklyHours, &l.CommittedHours,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan capacity lane: %w", err)
		}
		l.OwnerID = strOr(ownerID)
		if l.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		if l.UpdatedAt, err = scanTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// UpsertLane writes a legacy lane row. Kept only so older seed files
// keep loading; nothing reads these back except ListLanes.
func (s *Store) UpsertLane(ctx context.Context, l *domain.Lane, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lanes (id, name, kind, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind
	`, l.ID, l.Name, nullStr(l.Kind), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert lane %s: %w", l.ID, err)
	}
	return nil
}

// ListLanes returns the legacy lane rows.
func (s *Store) ListLanes(ctx context.Context) ([]*domain.Lane, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, kind, created_at FROM lanes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Lane
	for rows.Next() {
		var l domain.Lane
		var kind, createdAt sql.NullString
		if err := rows.Scan(&l.ID, &l.Name, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lane: %w", err)
		}
		l.Kind = strOr(kind)
		if l.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// UpsertEvent writes a calendar event. Attendee and prep-note lists are
// stored as JSON arrays. The task link is derived, so conflicts keep it.
func (s *Store) UpsertEvent(ctx context.Context, e *domain.Event, now time.Time) error {
	attendees, err := json.Marshal(orEmpty(e.Attendees))
	if err != nil {
		return fmt.Errorf("marshal attendees: %w", err)
	}
	prepNotes, err := json.Marshal(orEmpty(e.PrepNotes))
	if err != nil {
		return fmt.Errorf("marshal prep notes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, source, source_id, title, location, starts_at, ends_at,
			attendees, prep_minutes, prep_notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			location = excluded.location,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			attendees = excluded.attendees,
			prep_minutes = excluded.prep_minutes,
			prep_notes = excluded.prep_notes,
			updated_at = excluded.updated_at
	`, e.ID, e.Source, e.SourceID, e.Title, nullStr(e.Location), fmtTime(e.StartsAt),
		fmtTimePtr(e.EndsAt), string(attendees), e.PrepMinutes, string(prepNotes),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ID, err)
	}
	return nil
}

// SetEventTask links an event to the task it is about.
func (s *Store) SetEventTask(ctx context.Context, id, taskID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET task_id = ?, updated_at = ?
		WHERE id = ? AND task_id IS NOT ?
	`, nullStr(taskID), fmtTime(now), id, nullStr(taskID))
	if err != nil {
		return fmt.Errorf("set event task %s: %w", id, err)
	}
	return nil
}

// ListEvents returns events starting inside [from, to), soonest first.
func (s *Store) ListEvents(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_id, title, location, starts_at, ends_at, attendees,
			task_id, prep_minutes, prep_notes, created_at, updated_at
		FROM events WHERE starts_at >= ? AND starts_at < ?
		ORDER BY starts_at
	`, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		var e domain.Event
		var location, startsAt, endsAt, taskID, createdAt, updatedAt sql.NullString
		var attendees, prepNotes string
		if err := rows.Scan(&e.ID, &e.Source, &e.SourceID, &e.Title, &location,
			&startsAt, &endsAt, &attendees, &taskID, &e.PrepMinutes, &prepNotes,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Location = strOr(location)
		e.TaskID = strOr(taskID)
		if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
			return nil, fmt.Errorf("unmarshal attendees for %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(prepNotes), &e.PrepNotes); err != nil {
			return nil, fmt.Errorf("unmarshal prep notes for %s: %w", e.ID, err)
		}
		if e.StartsAt, err = scanTime(startsAt); err != nil {
			return nil, err
		}
		if e.EndsAt, err = scanTimePtr(endsAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		if e.UpdatedAt, err = scanTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

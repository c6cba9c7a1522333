package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// UpsertCommunication writes the source-owned communication columns.
// Linkage (from_domain, client_id, link_status) and the extraction stamp
// stay with the normalizer.
func (s *Store) UpsertCommunication(ctx context.Context, c *domain.Communication, now time.Time) error {
	if c.BodyMethod == "" {
		c.BodyMethod = domain.BodySnippetFallback
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO communications (id, source, source_id, thread_id, sender, recipients,
			subject, snippet, body_text, body_method, content_hash, received_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			sender = excluded.sender,
			recipients = excluded.recipients,
			subject = excluded.subject,
			snippet = excluded.snippet,
			body_text = excluded.body_text,
			body_method = excluded.body_method,
			content_hash = excluded.content_hash,
			received_at = excluded.received_at,
			updated_at = excluded.updated_at
	`, c.ID, c.Source, c.SourceID, nullStr(c.ThreadID), c.Sender, nullStr(c.Recipients),
		nullStr(c.Subject), nullStr(c.Snippet), nullStr(c.BodyText), c.BodyMethod,
		c.ContentHash, fmtTime(c.ReceivedAt), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert communication %s: %w", c.ID, err)
	}
	return nil
}

// SetCommLinkage writes the normalizer-owned linkage columns, guarded
// against no-op rewrites.
func (s *Store) SetCommLinkage(ctx context.Context, id, fromDomain, clientID string, link domain.LinkStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE communications SET from_domain = ?, client_id = ?, link_status = ?, updated_at = ?
		WHERE id = ? AND (from_domain IS NOT ? OR client_id IS NOT ? OR link_status IS NOT ?)
	`, nullStr(fromDomain), nullStr(clientID), link, fmtTime(now),
		id, nullStr(fromDomain), nullStr(clientID), link)
	if err != nil {
		return fmt.Errorf("set comm linkage %s: %w", id, err)
	}
	return nil
}

// MarkExtracted stamps a communication as commitment-extracted so the
// extractor never reprocesses it.
func (s *Store) MarkExtracted(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE communications SET extracted_at = ? WHERE id = ? AND extracted_at IS NULL",
		fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("mark extracted %s: %w", id, err)
	}
	return nil
}

const commColumns = `id, source, source_id, thread_id, sender, recipients, subject, snippet,
	body_text, body_method, content_hash, received_at, from_domain, client_id, link_status,
	extracted_at, created_at, updated_at`

func scanComm(row interface{ Scan(...any) error }) (*domain.Communication, error) {
	var c domain.Communication
	var threadID, recipients, subject, snippet, bodyText sql.NullString
	var receivedAt, fromDomain, clientID, extractedAt, createdAt, updatedAt sql.NullString
	if err := row.Scan(&c.ID, &c.Source, &c.SourceID, &threadID, &c.Sender, &recipients,
		&subject, &snippet, &bodyText, &c.BodyMethod, &c.ContentHash, &receivedAt,
		&fromDomain, &clientID, &c.LinkStatus, &extractedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ThreadID = strOr(threadID)
	c.Recipients = strOr(recipients)
	c.Subject = strOr(subject)
	c.Snippet = strOr(snippet)
	c.BodyText = strOr(bodyText)
	c.FromDomain = strOr(fromDomain)
	c.ClientID = strOr(clientID)
	var err error
	if c.ReceivedAt, err = scanTime(receivedAt); err != nil {
		return nil, err
	}
	if c.ExtractedAt, err = scanTimePtr(extractedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CommFilter narrows ListCommunications.
type CommFilter struct {
	ClientID    string
	LinkStatus  domain.LinkStatus
	ThreadID    string
	Unextracted bool
	Since       *time.Time
	Limit       int
}

// ListCommunications returns communications matching the filter, newest
// first.
func (s *Store) ListCommunications(ctx context.Context, f CommFilter) ([]*domain.Communication, error) {
	var conds []string
	var args []any
	if f.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.LinkStatus != "" {
		conds = append(conds, "link_status = ?")
		args = append(args, f.LinkStatus)
	}
	if f.ThreadID != "" {
		conds = append(conds, "thread_id = ?")
		args = append(args, f.ThreadID)
	}
	if f.Unextracted {
		conds = append(conds, "extracted_at IS NULL")
	}
	if f.Since != nil {
		conds = append(conds, "received_at >= ?")
		args = append(args, fmtTime(*f.Since))
	}

	q := "SELECT " + commColumns + " FROM communications" + whereClause(conds) +
		" ORDER BY received_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Communication
	for rows.Next() {
		c, err := scanComm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan communication: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCommunication loads one communication by ID.
func (s *Store) GetCommunication(ctx context.Context, id string) (*domain.Communication, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+commColumns+" FROM communications WHERE id = ?", id)
	c, err := scanComm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("communication %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get communication %s: %w", id, err)
	}
	return c, nil
}

// LatestCommInThread returns the newest communication in a thread.
func (s *Store) LatestCommInThread(ctx context.Context, threadID string) (*domain.Communication, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+commColumns+" FROM communications WHERE thread_id = ? ORDER BY received_at DESC LIMIT 1",
		threadID)
	c, err := scanComm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest comm in thread %s: %w", threadID, err)
	}
	return c, nil
}

// InsertCommitment adds a freshly extracted commitment.
func (s *Store) InsertCommitment(ctx context.Context, c *domain.Commitment, now time.Time) error {
	if c.Status == "" {
		c.Status = domain.CommitmentOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commitments (id, communication_id, client_id, task_id, kind, description,
			due_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.CommunicationID, nullStr(c.ClientID), nullStr(c.TaskID), c.Kind,
		c.Description, fmtTimePtr(c.DueDate), c.Status, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	return nil
}

// SetCommitmentStatus transitions a commitment's lifecycle state.
func (s *Store) SetCommitmentStatus(ctx context.Context, id string, status domain.CommitmentStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE commitments SET status = ?, updated_at = ? WHERE id = ? AND status IS NOT ?",
		status, fmtTime(now), id, status)
	if err != nil {
		return fmt.Errorf("set commitment status %s: %w", id, err)
	}
	return nil
}

// CommitmentFilter narrows ListCommitments.
type CommitmentFilter struct {
	Status   domain.CommitmentStatus
	ClientID string
}

// ListCommitments returns commitments matching the filter, oldest first.
func (s *Store) ListCommitments(ctx context.Context, f CommitmentFilter) ([]*domain.Commitment, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}

	q := `SELECT id, communication_id, client_id, task_id, kind, description, due_date, status,
		created_at, updated_at FROM commitments` + whereClause(conds) + " ORDER BY created_at"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Commitment
	for rows.Next() {
		var c domain.Commitment
		var clientID, taskID, dueDate, createdAt, updatedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.CommunicationID, &clientID, &taskID, &c.Kind,
			&c.Description, &dueDate, &c.Status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		c.ClientID = strOr(clientID)
		c.TaskID = strOr(taskID)
		if c.DueDate, err = scanTimePtr(dueDate); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = scanTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CommitmentCounts returns fulfilled and broken totals per client, for
// the health formula.
func (s *Store) CommitmentCounts(ctx context.Context, clientID string) (fulfilled, broken, open int, err error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM commitments WHERE client_id = ? GROUP BY status", clientID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("commitment counts %s: %w", clientID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.CommitmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, err
		}
		switch status {
		case domain.CommitmentFulfilled:
			fulfilled = n
		case domain.CommitmentBroken:
			broken = n
		case domain.CommitmentOpen:
			open = n
		}
	}
	return fulfilled, broken, open, rows.Err()
}

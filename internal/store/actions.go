package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// ErrAlreadyDecided marks a decision attempt on a non-pending action.
var ErrAlreadyDecided = errors.New("store: action already decided")

// ProposeAction inserts a pending action, deduplicated on the
// idempotency key. An existing non-terminal twin only refreshes
// proposed_at; a terminal twin (dismissed, expired, executed) frees the
// key for a fresh proposal. Returns true when a new row was created.
func (s *Store) ProposeAction(ctx context.Context, a *domain.PendingAction, now time.Time) (bool, error) {
	existing, err := s.getActionByKey(ctx, a.IdempotencyKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if existing != nil {
		if !existing.Status.Terminal() {
			_, err := s.db.ExecContext(ctx, `
				UPDATE pending_actions SET proposed_at = ?, updated_at = ? WHERE id = ?
			`, fmtTime(now), fmtTime(now), existing.ID)
			if err != nil {
				return false, fmt.Errorf("refresh action %s: %w", existing.ID, err)
			}
			return false, nil
		}
		// Terminal twin: retire its key so the new proposal can claim it.
		_, err := s.db.ExecContext(ctx, `
			UPDATE pending_actions SET idempotency_key = idempotency_key || ':retired:' || id, updated_at = ?
			WHERE id = ?
		`, fmtTime(now), existing.ID)
		if err != nil {
			return false, fmt.Errorf("retire action key %s: %w", existing.ID, err)
		}
	}

	if a.Status == "" {
		a.Status = domain.ActionPending
	}
	if a.Approval == "" {
		a.Approval = domain.ApprovalHuman
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, idempotency_key, move_type, domain, entity_type, entity_id,
			title, rationale, payload, risk, approval, status, proposed_at, expires_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.IdempotencyKey, a.MoveType, a.Domain, a.EntityType, a.EntityID,
		a.Title, nullStr(a.Rationale), nullStr(a.Payload), a.Risk, a.Approval, a.Status,
		fmtTime(now), fmtTimePtr(a.ExpiresAt), fmtTime(now), fmtTime(now))
	if err != nil {
		return false, fmt.Errorf("propose action %s: %w", a.IdempotencyKey, err)
	}
	return true, nil
}

// DecideAction applies an operator decision to a pending action.
func (s *Store) DecideAction(ctx context.Context, id string, status domain.ActionStatus, by string, now time.Time) error {
	if status != domain.ActionApproved && status != domain.ActionDismissed {
		return fmt.Errorf("decision %q is not approve or dismiss", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET status = ?, decided_at = ?, decided_by = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, fmtTime(now), by, fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("decide action %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetAction(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("action %s: %w", id, ErrAlreadyDecided)
	}
	return nil
}

// MarkActionExecuted records operator bookkeeping after an approved
// action was carried out externally.
func (s *Store) MarkActionExecuted(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET status = 'executed', executed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'approved'
	`, fmtTime(now), fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("mark action executed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetAction(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("action %s: %w", id, ErrAlreadyDecided)
	}
	return nil
}

// ExpireActions transitions undecided actions past their expiry.
func (s *Store) ExpireActions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET status = 'expired', updated_at = ?
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= ?
	`, fmtTime(now), fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("expire actions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const actionColumns = `id, idempotency_key, move_type, domain, entity_type, entity_id, title,
	rationale, payload, risk, approval, status, proposed_at, decided_at, decided_by,
	executed_at, expires_at, created_at, updated_at`

func scanAction(row interface{ Scan(...any) error }) (*domain.PendingAction, error) {
	var a domain.PendingAction
	var rationale, payload, proposedAt, decidedAt, decidedBy sql.NullString
	var executedAt, expiresAt, createdAt, updatedAt sql.NullString
	if err := row.Scan(&a.ID, &a.IdempotencyKey, &a.MoveType, &a.Domain, &a.EntityType,
		&a.EntityID, &a.Title, &rationale, &payload, &a.Risk, &a.Approval, &a.Status,
		&proposedAt, &decidedAt, &decidedBy, &executedAt, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Rationale = strOr(rationale)
	a.Payload = strOr(payload)
	a.DecidedBy = strOr(decidedBy)
	var err error
	if a.ProposedAt, err = scanTime(proposedAt); err != nil {
		return nil, err
	}
	if a.DecidedAt, err = scanTimePtr(decidedAt); err != nil {
		return nil, err
	}
	if a.ExecutedAt, err = scanTimePtr(executedAt); err != nil {
		return nil, err
	}
	if a.ExpiresAt, err = scanTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAction loads one action by ID.
func (s *Store) GetAction(ctx context.Context, id string) (*domain.PendingAction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+actionColumns+" FROM pending_actions WHERE id = ?", id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	return a, nil
}

func (s *Store) getActionByKey(ctx context.Context, key string) (*domain.PendingAction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+actionColumns+" FROM pending_actions WHERE idempotency_key = ?", key)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get action by key: %w", err)
	}
	return a, nil
}

// ActionFilter narrows ListActions.
type ActionFilter struct {
	Status   domain.ActionStatus
	MoveType domain.MoveType
	Domain   domain.Domain
	Limit    int
}

// ListActions returns actions matching the filter, newest proposals first.
func (s *Store) ListActions(ctx context.Context, f ActionFilter) ([]*domain.PendingAction, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.MoveType != "" {
		conds = append(conds, "move_type = ?")
		args = append(args, f.MoveType)
	}
	if f.Domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, f.Domain)
	}

	q := "SELECT " + actionColumns + " FROM pending_actions" + whereClause(conds) +
		" ORDER BY proposed_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []*domain.PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

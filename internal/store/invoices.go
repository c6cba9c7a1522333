package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// UpsertInvoice writes the source-owned invoice columns. The aging
// bucket is seeded at insert and owned by the normalizer afterwards, so
// the conflict SET list leaves it alone.
func (s *Store) UpsertInvoice(ctx context.Context, inv *domain.Invoice, now time.Time) error {
	if inv.Status == "" {
		inv.Status = domain.InvoiceSent
	}
	if inv.AgingBucket == "" {
		inv.AgingBucket = domain.AgingCurrent
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, source, source_id, client_id, number, amount, currency,
			status, issue_date, due_date, paid_date, aging_bucket, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			number = excluded.number,
			amount = excluded.amount,
			currency = excluded.currency,
			status = excluded.status,
			issue_date = excluded.issue_date,
			due_date = excluded.due_date,
			paid_date = excluded.paid_date,
			updated_at = excluded.updated_at
	`, inv.ID, inv.Source, inv.SourceID, nullStr(inv.ClientID), nullStr(inv.Number),
		inv.Amount, inv.Currency, inv.Status, fmtTimePtr(inv.IssueDate),
		fmtTimePtr(inv.DueDate), fmtTimePtr(inv.PaidDate), inv.AgingBucket,
		fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert invoice %s: %w", inv.ID, err)
	}
	return nil
}

// SetInvoiceAging recomputes the derived bucket; unchanged rows are
// untouched.
func (s *Store) SetInvoiceAging(ctx context.Context, id string, bucket domain.AgingBucket, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET aging_bucket = ?, updated_at = ?
		WHERE id = ? AND aging_bucket IS NOT ?
	`, bucket, fmtTime(now), id, bucket)
	if err != nil {
		return fmt.Errorf("set invoice aging %s: %w", id, err)
	}
	return nil
}

// SetInvoiceClient attaches a client, for operator resolution of
// invoice_missing_client issues.
func (s *Store) SetInvoiceClient(ctx context.Context, id, clientID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE invoices SET client_id = ?, updated_at = ? WHERE id = ?",
		nullStr(clientID), fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("set invoice client %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return nil
}

const invoiceColumns = `id, source, source_id, client_id, number, amount, currency, status,
	issue_date, due_date, paid_date, aging_bucket, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (*domain.Invoice, error) {
	var inv domain.Invoice
	var clientID, number, issueDate, dueDate, paidDate, createdAt, updatedAt sql.NullString
	if err := row.Scan(&inv.ID, &inv.Source, &inv.SourceID, &clientID, &number,
		&inv.Amount, &inv.Currency, &inv.Status, &issueDate, &dueDate, &paidDate,
		&inv.AgingBucket, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inv.ClientID = strOr(clientID)
	inv.Number = strOr(number)
	var err error
	if inv.IssueDate, err = scanTimePtr(issueDate); err != nil {
		return nil, err
	}
	if inv.DueDate, err = scanTimePtr(dueDate); err != nil {
		return nil, err
	}
	if inv.PaidDate, err = scanTimePtr(paidDate); err != nil {
		return nil, err
	}
	if inv.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if inv.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice loads one invoice by ID.
func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	return inv, nil
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	ClientID string
	Unpaid   bool
}

// ListInvoices returns invoices matching the filter, due date ascending.
func (s *Store) ListInvoices(ctx context.Context, f InvoiceFilter) ([]*domain.Invoice, error) {
	var conds []string
	var args []any
	if f.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.Unpaid {
		conds = append(conds, "status IN ('draft','sent')")
	}

	q := "SELECT " + invoiceColumns + " FROM invoices" + whereClause(conds) +
		" ORDER BY due_date IS NULL, due_date"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []*domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ARByClient sums unpaid amounts per client. Invoices missing a client
// land under the empty key so cash rollups never silently drop them.
func (s *Store) ARByClient(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(client_id, ''), SUM(amount)
		FROM invoices WHERE status IN ('draft','sent')
		GROUP BY COALESCE(client_id, '')
	`)
	if err != nil {
		return nil, fmt.Errorf("ar by client: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var clientID string
		var total float64
		if err := rows.Scan(&clientID, &total); err != nil {
			return nil, err
		}
		out[clientID] = total
	}
	return out, rows.Err()
}

// ARAgingTotals sums unpaid amounts per aging bucket.
func (s *Store) ARAgingTotals(ctx context.Context) (map[domain.AgingBucket]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aging_bucket, SUM(amount)
		FROM invoices WHERE status IN ('draft','sent')
		GROUP BY aging_bucket
	`)
	if err != nil {
		return nil, fmt.Errorf("ar aging totals: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.AgingBucket]float64)
	for rows.Next() {
		var bucket domain.AgingBucket
		var total float64
		if err := rows.Scan(&bucket, &total); err != nil {
			return nil, err
		}
		out[bucket] = total
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// ErrNotFound marks lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// UpsertClient writes the source-owned client columns. Derived health
// and AR fields are untouched on conflict; created_at survives updates.
func (s *Store) UpsertClient(ctx context.Context, c *domain.Client, now time.Time) error {
	if c.Tier == "" {
		c.Tier = domain.TierB
	}
	if c.Status == "" {
		c.Status = domain.ClientActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, tier, status, contact_email, contact_domain, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tier = excluded.tier,
			status = excluded.status,
			contact_email = excluded.contact_email,
			contact_domain = excluded.contact_domain,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, c.ID, c.Name, c.Tier, c.Status, nullStr(c.ContactEmail), nullStr(c.ContactDomain),
		nullStr(c.Notes), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert client %s: %w", c.ID, err)
	}
	return nil
}

// SetClientDerived writes the normalizer-owned client columns. The WHERE
// guard keeps the write (and updated_at bump) away from unchanged rows so
// repeated normalizer runs are no-ops.
func (s *Store) SetClientDerived(ctx context.Context, id string, health float64, color domain.HealthColor, trend domain.Trend, arOutstanding float64, arBucket domain.AgingBucket, lastContact *time.Time, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients SET
			health_score = ?, health_color = ?, relationship_trend = ?,
			ar_outstanding = ?, ar_bucket = ?, last_contact_at = ?,
			updated_at = ?
		WHERE id = ? AND (
			health_score IS NOT ? OR health_color IS NOT ? OR relationship_trend IS NOT ?
			OR ar_outstanding IS NOT ? OR ar_bucket IS NOT ? OR last_contact_at IS NOT ?
		)
	`, health, color, trend, arOutstanding, arBucket, fmtTimePtr(lastContact), fmtTime(now),
		id, health, color, trend, arOutstanding, arBucket, fmtTimePtr(lastContact))
	if err != nil {
		return fmt.Errorf("set client derived %s: %w", id, err)
	}
	return nil
}

const clientColumns = `id, name, tier, status, contact_email, contact_domain, notes,
	health_score, health_color, relationship_trend, ar_outstanding, ar_bucket,
	last_contact_at, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (*domain.Client, error) {
	var c domain.Client
	var email, cdomain, notes, lastContact, createdAt, updatedAt sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.Tier, &c.Status, &email, &cdomain, &notes,
		&c.HealthScore, &c.HealthColor, &c.Trend, &c.AROutstanding, &c.ARBucket,
		&lastContact, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ContactEmail = strOr(email)
	c.ContactDomain = strOr(cdomain)
	c.Notes = strOr(notes)
	var err error
	if c.LastContactAt, err = scanTimePtr(lastContact); err != nil {
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

// GetClient loads one client by ID.
func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", id, err)
	}
	return c, nil
}

// ListClients returns all clients ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]*domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertBrand writes a brand. The (client_id, name) uniqueness means a
// seed file can re-declare brands without duplicating them.
func (s *Store) UpsertBrand(ctx context.Context, b *domain.Brand, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO brands (id, client_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			name = excluded.name,
			updated_at = excluded.updated_at
		ON CONFLICT(client_id, name) DO UPDATE SET
			updated_at = excluded.updated_at
	`, b.ID, b.ClientID, b.Name, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert brand %s: %w", b.ID, err)
	}
	return nil
}

// ListBrands returns all brands.
func (s *Store) ListBrands(ctx context.Context) ([]*domain.Brand, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, client_id, name, created_at, updated_at FROM brands ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	var out []*domain.Brand
	for rows.Next() {
		var b domain.Brand
		var createdAt, updatedAt sql.NullString
		if err := rows.Scan(&b.ID, &b.ClientID, &b.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		if b.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		if b.UpdatedAt, err = scanTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

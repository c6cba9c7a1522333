package store

import (
	"context"
	"fmt"

	"agencyos/internal/domain"
)

// UpsertIdentity maps an email address or domain to a client. Values are
// stored lowercased so lookups never depend on source casing.
func (s *Store) UpsertIdentity(ctx context.Context, kind, value, clientID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_map (kind, value, client_id) VALUES (?, LOWER(?), ?)
		ON CONFLICT(kind, value) DO UPDATE SET client_id = excluded.client_id
	`, kind, value, clientID)
	if err != nil {
		return fmt.Errorf("upsert identity %s %s: %w", kind, value, err)
	}
	return nil
}

// IdentityMap loads the whole map keyed by "kind\x00value". The
// normalizer resolves senders against it in memory; the map is small
// (one row per known address or domain).
func (s *Store) IdentityMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, value, client_id FROM identity_map")
	if err != nil {
		return nil, fmt.Errorf("load identity map: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var kind, value, clientID string
		if err := rows.Scan(&kind, &value, &clientID); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out[kind+"\x00"+value] = clientID
	}
	return out, rows.Err()
}

// IdentityKey builds the in-memory map key for a kind/value pair.
func IdentityKey(kind, value string) string { return kind + "\x00" + value }

// ListIdentities returns all identity entries, for the CLI status view.
func (s *Store) ListIdentities(ctx context.Context) ([]*domain.IdentityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, value, client_id FROM identity_map ORDER BY kind, value")
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*domain.IdentityEntry
	for rows.Next() {
		var e domain.IdentityEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Value, &e.ClientID); err != nil {
			return nil, fmt.Errorf("scan identity entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

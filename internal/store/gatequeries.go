package store

import (
	"context"
	"fmt"
)

// Gate input queries. The gate engine owns the pass/fail logic; the
// store owns the SQL so every predicate runs against the same schema
// the accessors write.

// IntegrityViolations counts rows that break the structural invariants:
// dangling chain references, link statuses inconsistent with their
// chain, internal projects carrying client linkage, and linked
// communications pointing at no real client.
func (s *Store) IntegrityViolations(ctx context.Context) (int, error) {
	checks := []struct {
		name  string
		where string
		table string
	}{
		{"task linked without project", "project_link_status = 'linked' AND project_id IS NULL", "tasks"},
		{"task unlinked with project", "project_link_status = 'unlinked' AND project_id IS NOT NULL", "tasks"},
		{"task partial without project", "project_link_status = 'partial' AND project_id IS NULL", "tasks"},
		{"task n/a on external project",
			"client_link_status = 'n/a' AND project_id NOT IN (SELECT id FROM projects WHERE is_internal = 1)", "tasks"},
		{"task dangling project ref",
			"project_link_status = 'linked' AND project_id IS NOT NULL AND project_id NOT IN (SELECT id FROM projects)", "tasks"},
		{"internal project with client",
			"is_internal = 1 AND (client_id IS NOT NULL OR brand_id IS NOT NULL)", "projects"},
		{"linked comm without client",
			"link_status = 'linked' AND (client_id IS NULL OR client_id NOT IN (SELECT id FROM clients))", "communications"},
		{"negative invoice amount", "amount < 0", "invoices"},
	}
	total := 0
	for _, c := range checks {
		n, err := s.countWhere(ctx, c.table, c.where)
		if err != nil {
			return 0, fmt.Errorf("integrity check %s: %w", c.name, err)
		}
		total += n
	}
	return total, nil
}

// ExternalProjectsMissingBrand counts non-internal projects with no
// brand. Seed projects are held to the same bar as collected ones.
func (s *Store) ExternalProjectsMissingBrand(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "projects", "is_internal = 0 AND brand_id IS NULL")
}

// BrandInconsistentProjects counts projects whose client disagrees with
// their brand's client.
func (s *Store) BrandInconsistentProjects(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "projects", `brand_id IS NOT NULL AND client_id IS NOT
		(SELECT b.client_id FROM brands b WHERE b.id = projects.brand_id)`)
}

// ExternalProjectsMissingClient counts non-internal projects that still
// resolve no client after normalization.
func (s *Store) ExternalProjectsMissingClient(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "projects", "is_internal = 0 AND client_id IS NULL")
}

// InternalProjectsWithClient counts internal projects carrying client
// or brand linkage.
func (s *Store) InternalProjectsWithClient(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "projects", "is_internal = 1 AND (client_id IS NOT NULL OR brand_id IS NOT NULL)")
}

// ClientCoverage returns linked and total counts over tasks where
// client linkage applies (client_link_status != 'n/a').
func (s *Store) ClientCoverage(ctx context.Context) (linked, total int, err error) {
	if linked, err = s.countWhere(ctx, "tasks", "client_link_status = 'linked'"); err != nil {
		return 0, 0, err
	}
	if total, err = s.countWhere(ctx, "tasks", "client_link_status != 'n/a'"); err != nil {
		return 0, 0, err
	}
	return linked, total, nil
}

// CommitmentReadiness returns counts of communications with a usable
// body (length >= minBody) and of all communications.
func (s *Store) CommitmentReadiness(ctx context.Context, minBody int) (ready, total int, err error) {
	if ready, err = s.countWhere(ctx, "communications",
		"body_text IS NOT NULL AND LENGTH(body_text) >= ?", minBody); err != nil {
		return 0, 0, err
	}
	if total, err = s.countWhere(ctx, "communications", ""); err != nil {
		return 0, 0, err
	}
	return ready, total, nil
}

// ARCoverage returns counts of unpaid invoices with both client and due
// date, and of all unpaid invoices.
func (s *Store) ARCoverage(ctx context.Context) (covered, total int, err error) {
	const unpaid = "status IN ('draft','sent')"
	if covered, err = s.countWhere(ctx, "invoices",
		unpaid+" AND client_id IS NOT NULL AND due_date IS NOT NULL"); err != nil {
		return 0, 0, err
	}
	if total, err = s.countWhere(ctx, "invoices", unpaid); err != nil {
		return 0, 0, err
	}
	return covered, total, nil
}

// ARDirtyInvoices counts unpaid invoices missing a client or due date.
func (s *Store) ARDirtyInvoices(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "invoices",
		"status IN ('draft','sent') AND (client_id IS NULL OR due_date IS NULL)")
}

// CapacityBaseline returns the lane count and how many lanes lack a
// positive weekly budget.
func (s *Store) CapacityBaseline(ctx context.Context) (lanes, unbudgeted int, err error) {
	if lanes, err = s.countWhere(ctx, "capacity_lanes", ""); err != nil {
		return 0, 0, err
	}
	if unbudgeted, err = s.countWhere(ctx, "capacity_lanes", "weekly_hours <= 0"); err != nil {
		return 0, 0, err
	}
	return lanes, unbudgeted, nil
}

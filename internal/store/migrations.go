package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Schema versions:
// v1: initial schema (entities, queue, actions, sync/cycle bookkeeping)
// v2: commitment extraction stamp on communications; domain on actions
// v3: prep-minutes estimate on events
const CurrentSchemaVersion = 3

// Migration adds a column to an existing table. Additive only; the base
// schema in schema.go always reflects the latest shape for fresh files.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations upgrades databases created by older binaries where
// the table exists but lacks newer columns.
var pendingMigrations = []Migration{
	{"communications", "extracted_at", "TEXT"},
	{"pending_actions", "domain", "TEXT NOT NULL DEFAULT 'delivery'"},
	{"events", "prep_minutes", "INTEGER NOT NULL DEFAULT 0"},
}

// runMigrations applies pending column migrations and records the
// schema version. Called from Open after the base schema.
func (s *Store) runMigrations() error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(s.db, m.Table) {
			continue
		}
		if columnExists(s.db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.Table, m.Column, err)
		}
		s.logger.Info("migration applied",
			zap.String("table", m.Table), zap.String("column", m.Column))
		applied++
	}

	if v := schemaVersion(s.db); v < CurrentSchemaVersion {
		if err := setSchemaVersion(s.db, CurrentSchemaVersion); err != nil {
			return err
		}
	}
	if applied > 0 {
		s.logger.Info("schema migrations complete", zap.Int("applied", applied))
	}
	return nil
}

// schemaVersion returns the highest recorded schema version, 0 when none.
func schemaVersion(db *sql.DB) int {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

func setSchemaVersion(db *sql.DB, version int) error {
	desc := fmt.Sprintf("schema version %d", version)
	if _, err := db.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
		version, desc,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// tableExists checks sqlite_master for the table.
func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&count)
	return err == nil && count > 0
}

// columnExists walks PRAGMA table_info looking for the column.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

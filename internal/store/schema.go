package store

// Base schema. Tables are created with IF NOT EXISTS so Open is
// idempotent; later column additions go through migrations.go, never by
// editing these blocks.
const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	tier TEXT NOT NULL DEFAULT 'B' CHECK(tier IN ('A','B','C')),
	status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','paused','archived')),
	contact_email TEXT,
	contact_domain TEXT,
	notes TEXT,
	health_score REAL NOT NULL DEFAULT 70,
	health_color TEXT NOT NULL DEFAULT 'YELLOW' CHECK(health_color IN ('GREEN','YELLOW','RED')),
	relationship_trend TEXT NOT NULL DEFAULT 'steady' CHECK(relationship_trend IN ('improving','steady','declining')),
	ar_outstanding REAL NOT NULL DEFAULT 0,
	ar_bucket TEXT NOT NULL DEFAULT 'current' CHECK(ar_bucket IN ('current','1-30','31-60','61-90','90+')),
	last_contact_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS brands (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id),
	name TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(client_id, name)
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	brand_id TEXT REFERENCES brands(id),
	client_id TEXT REFERENCES clients(id),
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','on_hold','done','archived')),
	is_internal INTEGER NOT NULL DEFAULT 0,
	deadline TEXT,
	source TEXT NOT NULL,
	source_id TEXT,
	health_color TEXT NOT NULL DEFAULT 'GREEN' CHECK(health_color IN ('GREEN','YELLOW','RED')),
	tasks_total INTEGER NOT NULL DEFAULT 0,
	tasks_done INTEGER NOT NULL DEFAULT 0,
	completion_pct REAL NOT NULL DEFAULT 0,
	slip_risk REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	title TEXT NOT NULL,
	notes TEXT,
	status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','in_progress','blocked','done')),
	priority INTEGER NOT NULL DEFAULT 50 CHECK(priority BETWEEN 0 AND 100),
	urgency REAL NOT NULL DEFAULT 0,
	impact REAL NOT NULL DEFAULT 0,
	due_date TEXT,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	project_id TEXT,
	assignee_id TEXT,
	assignee_raw TEXT,
	blocked_since TEXT,
	last_activity_at TEXT,
	brand_id TEXT,
	client_id TEXT,
	project_link_status TEXT NOT NULL DEFAULT 'unlinked' CHECK(project_link_status IN ('linked','partial','unlinked')),
	client_link_status TEXT NOT NULL DEFAULT 'unlinked' CHECK(client_link_status IN ('linked','unlinked','n/a')),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_client ON tasks(client_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_project_link ON tasks(project_link_status);

CREATE TABLE IF NOT EXISTS communications (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	thread_id TEXT,
	sender TEXT NOT NULL,
	recipients TEXT,
	subject TEXT,
	snippet TEXT,
	body_text TEXT,
	body_method TEXT NOT NULL DEFAULT 'snippet_fallback' CHECK(body_method IN ('html_stripped','plain','snippet_fallback')),
	content_hash TEXT NOT NULL,
	received_at TEXT NOT NULL,
	from_domain TEXT,
	client_id TEXT,
	link_status TEXT NOT NULL DEFAULT 'unlinked' CHECK(link_status IN ('linked','unlinked')),
	extracted_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comms_client ON communications(client_id);
CREATE INDEX IF NOT EXISTS idx_comms_hash ON communications(content_hash);
CREATE INDEX IF NOT EXISTS idx_comms_thread ON communications(thread_id);

CREATE TABLE IF NOT EXISTS commitments (
	id TEXT PRIMARY KEY,
	communication_id TEXT NOT NULL REFERENCES communications(id),
	client_id TEXT,
	task_id TEXT,
	kind TEXT NOT NULL CHECK(kind IN ('promise','request')),
	description TEXT NOT NULL,
	due_date TEXT,
	status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','fulfilled','broken','expired')),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commitments_status ON commitments(status);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	client_id TEXT REFERENCES clients(id),
	number TEXT,
	amount REAL NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT 'USD',
	status TEXT NOT NULL DEFAULT 'sent' CHECK(status IN ('draft','sent','paid','voided')),
	issue_date TEXT,
	due_date TEXT,
	paid_date TEXT,
	aging_bucket TEXT NOT NULL DEFAULT 'current' CHECK(aging_bucket IN ('current','1-30','31-60','61-90','90+')),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invoices_unpaid ON invoices(client_id, due_date) WHERE status IN ('draft','sent');

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	title TEXT NOT NULL,
	location TEXT,
	starts_at TEXT NOT NULL,
	ends_at TEXT,
	attendees TEXT NOT NULL DEFAULT '[]',
	task_id TEXT,
	prep_minutes INTEGER NOT NULL DEFAULT 0,
	prep_notes TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_starts ON events(starts_at);

CREATE TABLE IF NOT EXISTS team_members (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT,
	name TEXT NOT NULL,
	email TEXT,
	role TEXT,
	weekly_hours REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS capacity_lanes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	owner_id TEXT REFERENCES team_members(id),
	weekly_hours REAL NOT NULL DEFAULT 0,
	committed_hours REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lanes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS identity_map (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL CHECK(kind IN ('email','domain')),
	value TEXT NOT NULL,
	client_id TEXT NOT NULL REFERENCES clients(id),
	UNIQUE(kind, value)
);

CREATE TABLE IF NOT EXISTS resolution_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	issue_type TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 3 CHECK(priority BETWEEN 1 AND 5),
	context TEXT,
	created_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	expires_at TEXT,
	resolved_at TEXT,
	resolved_by TEXT,
	resolution_action TEXT,
	UNIQUE(entity_type, entity_id, issue_type)
);
CREATE INDEX IF NOT EXISTS idx_queue_open ON resolution_queue(priority, last_seen_at) WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS pending_actions (
	id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	move_type TEXT NOT NULL,
	domain TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	title TEXT NOT NULL,
	rationale TEXT,
	payload TEXT,
	risk TEXT NOT NULL DEFAULT 'low' CHECK(risk IN ('low','medium','high')),
	approval TEXT NOT NULL DEFAULT 'human' CHECK(approval IN ('auto','human')),
	status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','approved','dismissed','expired','executed')),
	proposed_at TEXT NOT NULL,
	decided_at TEXT,
	decided_by TEXT,
	executed_at TEXT,
	expires_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_open ON pending_actions(proposed_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS sync_state (
	source TEXT PRIMARY KEY,
	last_sync TEXT,
	last_success TEXT,
	items_synced INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_number INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	success INTEGER NOT NULL DEFAULT 0,
	failed_phase TEXT,
	error TEXT,
	phase_durations TEXT
);
CREATE INDEX IF NOT EXISTS idx_cycles_number ON cycle_logs(cycle_number DESC);

CREATE TABLE IF NOT EXISTS gate_reports (
	cycle_number INTEGER PRIMARY KEY,
	generated_at TEXT NOT NULL,
	report TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	version INTEGER NOT NULL,
	applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	description TEXT
);
`

// initialize creates the base tables.
func (s *Store) initialize() error {
	_, err := s.db.Exec(schema)
	return err
}

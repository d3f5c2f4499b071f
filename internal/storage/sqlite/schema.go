package sqlite

// Schema is the SQLite DDL mirror of postgres.Schema. Types are loosened to
// SQLite's dynamic typing (TEXT for timestamps, stored as RFC3339Nano, so
// lexical ordering matches chronological ordering).
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	correlation_id TEXT,
	status INTEGER NOT NULL DEFAULT 0,
	owner_token TEXT,
	locked_until TEXT,
	due_at TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS outbox_ready_idx ON outbox (status, created_at);

CREATE TABLE IF NOT EXISTS inbox (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	message_id TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Seen',
	owner_token TEXT,
	locked_until TEXT,
	due_at TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	first_seen_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS inbox_pending_idx ON inbox (status, last_seen_at);

CREATE TABLE IF NOT EXISTS timers (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	owner_token TEXT,
	locked_until TEXT,
	due_at TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS timers_due_idx ON timers (status, due_at);

CREATE TABLE IF NOT EXISTS jobs (
	name TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	payload BLOB NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_run_at TEXT,
	next_run_at TEXT
);

CREATE TABLE IF NOT EXISTS job_runs (
	id TEXT PRIMARY KEY,
	job_name TEXT NOT NULL REFERENCES jobs (name) ON DELETE CASCADE,
	scheduled_at TEXT NOT NULL,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	owner_token TEXT,
	locked_until TEXT,
	due_at TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS job_runs_due_idx ON job_runs (status, scheduled_at);
CREATE UNIQUE INDEX IF NOT EXISTS job_runs_job_scheduled_uidx ON job_runs (job_name, scheduled_at);

CREATE TABLE IF NOT EXISTS leases (
	resource_name TEXT PRIMARY KEY,
	owner_token TEXT,
	lease_until TEXT,
	fencing_token INTEGER NOT NULL DEFAULT 0,
	context_json BLOB
);

CREATE TABLE IF NOT EXISTS idempotency_records (
	key TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	locked_until TEXT,
	locked_by TEXT,
	failure_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fanout_policies (
	topic TEXT NOT NULL,
	work_key TEXT NOT NULL,
	every_seconds INTEGER NOT NULL,
	jitter_seconds INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (topic, work_key)
);

CREATE TABLE IF NOT EXISTS fanout_cursors (
	topic TEXT NOT NULL,
	work_key TEXT NOT NULL,
	shard_key TEXT NOT NULL,
	last_completed_at TEXT,
	last_attempt_at TEXT,
	last_attempt_status TEXT,
	next_attempt_at TEXT,
	PRIMARY KEY (topic, work_key, shard_key)
);

CREATE TABLE IF NOT EXISTS outbox_joins (
	join_id TEXT PRIMARY KEY,
	expected_steps INTEGER NOT NULL,
	completed_steps INTEGER NOT NULL DEFAULT 0,
	failed_steps INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'InProgress',
	metadata BLOB
);

CREATE TABLE IF NOT EXISTS outbox_join_members (
	join_id TEXT NOT NULL REFERENCES outbox_joins (join_id) ON DELETE CASCADE,
	outbox_message_id TEXT NOT NULL,
	completed_at TEXT,
	failed_at TEXT,
	PRIMARY KEY (join_id, outbox_message_id)
);
`

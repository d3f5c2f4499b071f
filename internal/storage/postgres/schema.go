package postgres

// Schema is the Postgres DDL for every table queuecore owns. Hosts apply it
// with whatever migration tool they already use (pressly/goose, golang-
// migrate, ...); queuecore does not ship a migration runner (spec.md §1
// lists "migrations" as an out-of-scope external collaborator).
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	message_id TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	correlation_id TEXT,
	status SMALLINT NOT NULL DEFAULT 0,
	owner_token TEXT,
	locked_until TIMESTAMPTZ,
	due_at TIMESTAMPTZ,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_ready_idx ON outbox (status, created_at)
	INCLUDE (id, owner_token, locked_until, due_at) WHERE status = 0;

CREATE TABLE IF NOT EXISTS inbox (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	source TEXT NOT NULL,
	message_id TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Seen',
	owner_token TEXT,
	locked_until TIMESTAMPTZ,
	due_at TIMESTAMPTZ,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS inbox_pending_idx ON inbox (status, last_seen_at)
	WHERE status IN ('Seen', 'Processing');

CREATE TABLE IF NOT EXISTS timers (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	owner_token TEXT,
	locked_until TIMESTAMPTZ,
	due_at TIMESTAMPTZ NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS timers_due_idx ON timers (status, due_at);

CREATE TABLE IF NOT EXISTS jobs (
	name TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	payload BYTEA NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true,
	last_run_at TIMESTAMPTZ,
	next_run_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_runs (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	job_name TEXT NOT NULL REFERENCES jobs (name) ON DELETE CASCADE,
	scheduled_at TIMESTAMPTZ NOT NULL,
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	owner_token TEXT,
	locked_until TIMESTAMPTZ,
	due_at TIMESTAMPTZ,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS job_runs_due_idx ON job_runs (status, scheduled_at);
CREATE UNIQUE INDEX IF NOT EXISTS job_runs_job_scheduled_uidx ON job_runs (job_name, scheduled_at);

CREATE TABLE IF NOT EXISTS leases (
	resource_name TEXT PRIMARY KEY,
	owner_token TEXT,
	lease_until TIMESTAMPTZ,
	fencing_token BIGINT NOT NULL DEFAULT 0,
	context_json BYTEA
);

CREATE TABLE IF NOT EXISTS idempotency_records (
	key TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	locked_until TIMESTAMPTZ,
	locked_by TEXT,
	failure_count INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fanout_policies (
	topic TEXT NOT NULL,
	work_key TEXT NOT NULL,
	every_seconds INT NOT NULL,
	jitter_seconds INT NOT NULL DEFAULT 0,
	PRIMARY KEY (topic, work_key)
);

CREATE TABLE IF NOT EXISTS fanout_cursors (
	topic TEXT NOT NULL,
	work_key TEXT NOT NULL,
	shard_key TEXT NOT NULL,
	last_completed_at TIMESTAMPTZ,
	last_attempt_at TIMESTAMPTZ,
	last_attempt_status TEXT,
	next_attempt_at TIMESTAMPTZ,
	PRIMARY KEY (topic, work_key, shard_key)
);

CREATE TABLE IF NOT EXISTS outbox_joins (
	join_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	expected_steps INT NOT NULL,
	completed_steps INT NOT NULL DEFAULT 0,
	failed_steps INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'InProgress',
	metadata BYTEA
);

CREATE TABLE IF NOT EXISTS outbox_join_members (
	join_id UUID NOT NULL REFERENCES outbox_joins (join_id) ON DELETE CASCADE,
	outbox_message_id UUID NOT NULL,
	completed_at TIMESTAMPTZ,
	failed_at TIMESTAMPTZ,
	PRIMARY KEY (join_id, outbox_message_id)
);
`

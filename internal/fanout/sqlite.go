package fanout

import (
	"context"
	"database/sql"
	"time"
)

type SQLitePolicyStore struct {
	db *sql.DB
}

func NewSQLitePolicyStore(db *sql.DB) *SQLitePolicyStore {
	return &SQLitePolicyStore{db: db}
}

var _ PolicyStore = (*SQLitePolicyStore)(nil)

func (s *SQLitePolicyStore) Get(ctx context.Context, topic, workKey string) (Policy, bool, error) {
	var p Policy
	err := s.db.QueryRowContext(ctx, `
		SELECT topic, work_key, every_seconds, jitter_seconds FROM fanout_policies WHERE topic = ? AND work_key = ?
	`, topic, workKey).Scan(&p.Topic, &p.WorkKey, &p.EverySeconds, &p.JitterSeconds)
	if err == sql.ErrNoRows {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

func (s *SQLitePolicyStore) Upsert(ctx context.Context, policy Policy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fanout_policies (topic, work_key, every_seconds, jitter_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (topic, work_key) DO UPDATE SET
			every_seconds = excluded.every_seconds,
			jitter_seconds = excluded.jitter_seconds
	`, policy.Topic, policy.WorkKey, policy.EverySeconds, policy.JitterSeconds)
	return err
}

type SQLiteCursorStore struct {
	db *sql.DB
}

func NewSQLiteCursorStore(db *sql.DB) *SQLiteCursorStore {
	return &SQLiteCursorStore{db: db}
}

var _ CursorStore = (*SQLiteCursorStore)(nil)

func (s *SQLiteCursorStore) Get(ctx context.Context, topic, workKey, shardKey string) (Cursor, bool, error) {
	c := Cursor{Topic: topic, WorkKey: workKey, ShardKey: shardKey}
	var lastCompleted, lastAttempt, nextAttempt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT last_completed_at, last_attempt_at, last_attempt_status, next_attempt_at
		FROM fanout_cursors WHERE topic = ? AND work_key = ? AND shard_key = ?
	`, topic, workKey, shardKey).Scan(&lastCompleted, &lastAttempt, &c.LastAttemptStatus, &nextAttempt)
	if err == sql.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	if lastCompleted.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastCompleted.String)
		if err != nil {
			return Cursor{}, false, err
		}
		c.LastCompletedAt = &t
	}
	if lastAttempt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastAttempt.String)
		if err != nil {
			return Cursor{}, false, err
		}
		c.LastAttemptAt = &t
	}
	if nextAttempt.Valid {
		t, err := time.Parse(time.RFC3339Nano, nextAttempt.String)
		if err != nil {
			return Cursor{}, false, err
		}
		c.NextAttemptAt = &t
	}
	return c, true, nil
}

func (s *SQLiteCursorStore) MarkAttempt(ctx context.Context, topic, workKey, shardKey, status string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fanout_cursors (topic, work_key, shard_key, last_attempt_at, last_attempt_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (topic, work_key, shard_key) DO UPDATE SET
			last_attempt_at = excluded.last_attempt_at,
			last_attempt_status = excluded.last_attempt_status
	`, topic, workKey, shardKey, now.UTC().Format(time.RFC3339Nano), status)
	return err
}

func (s *SQLiteCursorStore) MarkCompleted(ctx context.Context, topic, workKey, shardKey string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fanout_cursors (topic, work_key, shard_key, last_completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (topic, work_key, shard_key) DO UPDATE SET
			last_completed_at = excluded.last_completed_at
	`, topic, workKey, shardKey, now.UTC().Format(time.RFC3339Nano))
	return err
}

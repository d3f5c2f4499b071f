package fanout

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresPolicyStore struct {
	pool *pgxpool.Pool
}

func NewPostgresPolicyStore(pool *pgxpool.Pool) *PostgresPolicyStore {
	return &PostgresPolicyStore{pool: pool}
}

var _ PolicyStore = (*PostgresPolicyStore)(nil)

func (s *PostgresPolicyStore) Get(ctx context.Context, topic, workKey string) (Policy, bool, error) {
	var p Policy
	err := s.pool.QueryRow(ctx, `
		SELECT topic, work_key, every_seconds, jitter_seconds FROM fanout_policies WHERE topic = $1 AND work_key = $2
	`, topic, workKey).Scan(&p.Topic, &p.WorkKey, &p.EverySeconds, &p.JitterSeconds)
	if err == pgx.ErrNoRows {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

func (s *PostgresPolicyStore) Upsert(ctx context.Context, policy Policy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fanout_policies (topic, work_key, every_seconds, jitter_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (topic, work_key) DO UPDATE SET
			every_seconds = EXCLUDED.every_seconds,
			jitter_seconds = EXCLUDED.jitter_seconds
	`, policy.Topic, policy.WorkKey, policy.EverySeconds, policy.JitterSeconds)
	return err
}

type PostgresCursorStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCursorStore(pool *pgxpool.Pool) *PostgresCursorStore {
	return &PostgresCursorStore{pool: pool}
}

var _ CursorStore = (*PostgresCursorStore)(nil)

func (s *PostgresCursorStore) Get(ctx context.Context, topic, workKey, shardKey string) (Cursor, bool, error) {
	c := Cursor{Topic: topic, WorkKey: workKey, ShardKey: shardKey}
	err := s.pool.QueryRow(ctx, `
		SELECT last_completed_at, last_attempt_at, last_attempt_status, next_attempt_at
		FROM fanout_cursors WHERE topic = $1 AND work_key = $2 AND shard_key = $3
	`, topic, workKey, shardKey).Scan(&c.LastCompletedAt, &c.LastAttemptAt, &c.LastAttemptStatus, &c.NextAttemptAt)
	if err == pgx.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	return c, true, nil
}

func (s *PostgresCursorStore) MarkAttempt(ctx context.Context, topic, workKey, shardKey, status string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fanout_cursors (topic, work_key, shard_key, last_attempt_at, last_attempt_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic, work_key, shard_key) DO UPDATE SET
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_attempt_status = EXCLUDED.last_attempt_status
	`, topic, workKey, shardKey, now, status)
	return err
}

func (s *PostgresCursorStore) MarkCompleted(ctx context.Context, topic, workKey, shardKey string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fanout_cursors (topic, work_key, shard_key, last_completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (topic, work_key, shard_key) DO UPDATE SET
			last_completed_at = EXCLUDED.last_completed_at
	`, topic, workKey, shardKey, now)
	return err
}

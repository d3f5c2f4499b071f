package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/queuecore/internal/queue"
)

type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(pool *pgxpool.Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

var _ JobStore = (*PostgresJobStore)(nil)

func (s *PostgresJobStore) Upsert(ctx context.Context, job Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (name, topic, cron_expression, payload, enabled, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			topic = EXCLUDED.topic,
			cron_expression = EXCLUDED.cron_expression,
			payload = EXCLUDED.payload,
			enabled = EXCLUDED.enabled,
			next_run_at = EXCLUDED.next_run_at
	`, job.Name, job.Topic, job.CronExpression, job.Payload, job.Enabled, job.NextRunAt)
	return err
}

func (s *PostgresJobStore) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE name = $1`, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresJobStore) Get(ctx context.Context, name string) (Job, bool, error) {
	var job Job
	err := s.pool.QueryRow(ctx, `
		SELECT name, topic, cron_expression, payload, enabled, last_run_at, next_run_at FROM jobs WHERE name = $1
	`, name).Scan(&job.Name, &job.Topic, &job.CronExpression, &job.Payload, &job.Enabled, &job.LastRunAt, &job.NextRunAt)
	if err == pgx.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) DueForMaterialization(ctx context.Context, now, until time.Time) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, topic, cron_expression, payload, enabled, last_run_at, next_run_at
		FROM jobs
		WHERE enabled = true AND (next_run_at IS NULL OR next_run_at <= $1)
	`, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.Name, &job.Topic, &job.CronExpression, &job.Payload, &job.Enabled, &job.LastRunAt, &job.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresJobStore) MarkRun(ctx context.Context, name string, lastRunAt, nextRunAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET last_run_at = $2, next_run_at = $3 WHERE name = $1
	`, name, lastRunAt, nextRunAt)
	return err
}

type PostgresJobRunStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobRunStore(pool *pgxpool.Pool) *PostgresJobRunStore {
	return &PostgresJobRunStore{pool: pool}
}

var _ JobRunStore = (*PostgresJobRunStore)(nil)

func (s *PostgresJobRunStore) InsertRun(ctx context.Context, jobName, topic string, payload []byte, scheduledAt, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, job_name, scheduled_at, topic, payload, status, due_at, created_at, last_seen_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 0, $2, $5, $5)
		ON CONFLICT (job_name, scheduled_at) DO NOTHING
	`, jobName, scheduledAt, topic, payload, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresJobRunStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	return loadItemsPostgres(ctx, s.pool, "job_runs", ids)
}

package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/baechuer/queuecore/internal/queue"
)

type SQLiteJobStore struct {
	db *sql.DB
}

func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

var _ JobStore = (*SQLiteJobStore)(nil)

func (s *SQLiteJobStore) Upsert(ctx context.Context, job Job) error {
	var nextRunAt interface{}
	if job.NextRunAt != nil {
		nextRunAt = job.NextRunAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (name, topic, cron_expression, payload, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			topic = excluded.topic,
			cron_expression = excluded.cron_expression,
			payload = excluded.payload,
			enabled = excluded.enabled,
			next_run_at = excluded.next_run_at
	`, job.Name, job.Topic, job.CronExpression, job.Payload, job.Enabled, nextRunAt)
	return err
}

func (s *SQLiteJobStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteJobStore) Get(ctx context.Context, name string) (Job, bool, error) {
	var job Job
	var lastRunAt, nextRunAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT name, topic, cron_expression, payload, enabled, last_run_at, next_run_at FROM jobs WHERE name = ?
	`, name).Scan(&job.Name, &job.Topic, &job.CronExpression, &job.Payload, &job.Enabled, &lastRunAt, &nextRunAt)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastRunAt.String)
		if err != nil {
			return Job{}, false, err
		}
		job.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, nextRunAt.String)
		if err != nil {
			return Job{}, false, err
		}
		job.NextRunAt = &t
	}
	return job, true, nil
}

func (s *SQLiteJobStore) DueForMaterialization(ctx context.Context, now, until time.Time) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, topic, cron_expression, payload, enabled, last_run_at, next_run_at
		FROM jobs
		WHERE enabled = 1 AND (next_run_at IS NULL OR next_run_at <= ?)
	`, until.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var lastRunAt, nextRunAt sql.NullString
		if err := rows.Scan(&job.Name, &job.Topic, &job.CronExpression, &job.Payload, &job.Enabled, &lastRunAt, &nextRunAt); err != nil {
			return nil, err
		}
		if lastRunAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, lastRunAt.String)
			if err != nil {
				return nil, err
			}
			job.LastRunAt = &t
		}
		if nextRunAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, nextRunAt.String)
			if err != nil {
				return nil, err
			}
			job.NextRunAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteJobStore) MarkRun(ctx context.Context, name string, lastRunAt, nextRunAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET last_run_at = ?, next_run_at = ? WHERE name = ?
	`, lastRunAt.UTC().Format(time.RFC3339Nano), nextRunAt.UTC().Format(time.RFC3339Nano), name)
	return err
}

type SQLiteJobRunStore struct {
	db *sql.DB
}

func NewSQLiteJobRunStore(db *sql.DB) *SQLiteJobRunStore {
	return &SQLiteJobRunStore{db: db}
}

var _ JobRunStore = (*SQLiteJobRunStore)(nil)

func (s *SQLiteJobRunStore) InsertRun(ctx context.Context, jobName, topic string, payload []byte, scheduledAt, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO job_runs (id, job_name, scheduled_at, topic, payload, status, due_at, created_at, last_seen_at)
		VALUES (lower(hex(randomblob(16))), ?, ?, ?, ?, 0, ?, ?, ?)
	`, jobName, scheduledAt.UTC().Format(time.RFC3339Nano), topic, payload,
		scheduledAt.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteJobRunStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	return loadItemsSQLite(ctx, s.db, "job_runs", ids)
}

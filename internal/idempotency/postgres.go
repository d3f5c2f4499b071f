package idempotency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend implements Backend against idempotency_records with an
// explicit SELECT ... FOR UPDATE transaction per call, the same
// read-then-decide-then-write shape lease/postgres.go's Acquire uses: a row
// is only ever a permanent fence while it is InFlight with an unexpired
// lock. Completed rows stay fenced forever (spec.md §4.D), but Open,
// Failed, and expired-InFlight rows are reclaimed rather than left to
// block every future TryBegin for that key.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

var _ Backend = (*PostgresBackend)(nil)

func (b *PostgresBackend) TryBegin(ctx context.Context, key, owner string, lockedUntil time.Time) (Record, bool, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rec Record
	var status string
	now := time.Now()
	err = tx.QueryRow(ctx, `
		SELECT key, status, locked_until, locked_by, failure_count
		FROM idempotency_records WHERE key = $1 FOR UPDATE
	`, key).Scan(&rec.Key, &status, &rec.LockedUntil, &rec.LockedBy, &rec.FailureCount)

	switch err {
	case pgx.ErrNoRows:
		if _, err := tx.Exec(ctx, `
			INSERT INTO idempotency_records (key, status, locked_until, locked_by, failure_count)
			VALUES ($1, $2, $3, $4, 0)
		`, key, string(StatusInFlight), lockedUntil, owner); err != nil {
			return Record{}, false, err
		}
		return Record{Key: key, Status: StatusInFlight, LockedUntil: &lockedUntil, LockedBy: owner}, true, tx.Commit(ctx)
	case nil:
		rec.Status = RecordStatus(status)
		claimable := rec.Status == StatusOpen || rec.Status == StatusFailed ||
			(rec.Status == StatusInFlight && (rec.LockedUntil == nil || !rec.LockedUntil.After(now)))
		if !claimable {
			return rec, false, tx.Commit(ctx)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE idempotency_records
			SET status = $2, locked_until = $3, locked_by = $4
			WHERE key = $1
		`, key, string(StatusInFlight), lockedUntil, owner); err != nil {
			return Record{}, false, err
		}
		return Record{Key: key, Status: StatusInFlight, LockedUntil: &lockedUntil, LockedBy: owner}, true, tx.Commit(ctx)
	default:
		return Record{}, false, err
	}
}

func (b *PostgresBackend) Complete(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE idempotency_records SET status = $2, locked_until = NULL, locked_by = NULL
		WHERE key = $1
	`, key, string(StatusCompleted))
	return err
}

func (b *PostgresBackend) Fail(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $2, locked_until = NULL, locked_by = NULL, failure_count = failure_count + 1
		WHERE key = $1
	`, key, string(StatusFailed))
	return err
}

func (b *PostgresBackend) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $2, locked_until = NULL, locked_by = NULL
		WHERE status = $3 AND locked_until <= $1
	`, now, string(StatusOpen), string(StatusInFlight))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

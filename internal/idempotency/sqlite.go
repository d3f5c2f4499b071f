package idempotency

import (
	"context"
	"database/sql"
	"time"
)

// SQLiteBackend mirrors PostgresBackend's read-then-decide-then-write shape
// inside a BEGIN IMMEDIATE-equivalent transaction (the same serialization
// lease/sqlite.go relies on in place of row-level locking), loosening
// timestamp columns to RFC3339Nano text as internal/storage/sqlite does.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

var _ Backend = (*SQLiteBackend)(nil)

func (b *SQLiteBackend) TryBegin(ctx context.Context, key, owner string, lockedUntil time.Time) (Record, bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	lockedUntilStr := lockedUntil.UTC().Format(time.RFC3339Nano)
	now := time.Now()

	var rec Record
	var status string
	var existingLockedUntilStr sql.NullString
	var lockedBy sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT key, status, locked_until, locked_by, failure_count
		FROM idempotency_records WHERE key = ?
	`, key).Scan(&rec.Key, &status, &existingLockedUntilStr, &lockedBy, &rec.FailureCount)

	switch err {
	case sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_records (key, status, locked_until, locked_by, failure_count)
			VALUES (?, ?, ?, ?, 0)
		`, key, string(StatusInFlight), lockedUntilStr, owner); err != nil {
			return Record{}, false, err
		}
		return Record{Key: key, Status: StatusInFlight, LockedUntil: &lockedUntil, LockedBy: owner}, true, tx.Commit()
	case nil:
		rec.Status = RecordStatus(status)
		rec.LockedBy = lockedBy.String
		if existingLockedUntilStr.Valid {
			if t, perr := time.Parse(time.RFC3339Nano, existingLockedUntilStr.String); perr == nil {
				rec.LockedUntil = &t
			}
		}
		claimable := rec.Status == StatusOpen || rec.Status == StatusFailed ||
			(rec.Status == StatusInFlight && (rec.LockedUntil == nil || !rec.LockedUntil.After(now)))
		if !claimable {
			return rec, false, tx.Commit()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE idempotency_records
			SET status = ?, locked_until = ?, locked_by = ?
			WHERE key = ?
		`, string(StatusInFlight), lockedUntilStr, owner, key); err != nil {
			return Record{}, false, err
		}
		return Record{Key: key, Status: StatusInFlight, LockedUntil: &lockedUntil, LockedBy: owner}, true, tx.Commit()
	default:
		return Record{}, false, err
	}
}

func (b *SQLiteBackend) Complete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE idempotency_records SET status = ?, locked_until = NULL, locked_by = NULL
		WHERE key = ?
	`, string(StatusCompleted), key)
	return err
}

func (b *SQLiteBackend) Fail(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = ?, locked_until = NULL, locked_by = NULL, failure_count = failure_count + 1
		WHERE key = ?
	`, string(StatusFailed), key)
	return err
}

func (b *SQLiteBackend) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = ?, locked_until = NULL, locked_by = NULL
		WHERE status = ? AND locked_until <= ?
	`, string(StatusOpen), string(StatusInFlight), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

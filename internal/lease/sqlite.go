package lease

import (
	"context"
	"database/sql"
	"time"
)

// SQLiteBackend mirrors PostgresBackend's read-then-decide-then-write shape
// inside a BEGIN IMMEDIATE transaction, the same serialization
// internal/storage/sqlite relies on in place of row-level locking.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

var _ Backend = (*SQLiteBackend)(nil)

func (b *SQLiteBackend) Acquire(ctx context.Context, resource, owner string, now, until time.Time) (int64, bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var ownerToken sql.NullString
	var leaseUntilStr sql.NullString
	var fencingToken int64
	err = tx.QueryRowContext(ctx, `
		SELECT owner_token, lease_until, fencing_token FROM leases WHERE resource_name = ?
	`, resource).Scan(&ownerToken, &leaseUntilStr, &fencingToken)

	untilStr := until.UTC().Format(time.RFC3339Nano)

	switch err {
	case sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO leases (resource_name, owner_token, lease_until, fencing_token) VALUES (?, ?, ?, 1)
		`, resource, owner, untilStr); err != nil {
			return 0, false, err
		}
		return 1, true, tx.Commit()
	case nil:
		if leaseUntilStr.Valid {
			leaseUntil, perr := time.Parse(time.RFC3339Nano, leaseUntilStr.String)
			if perr == nil && leaseUntil.After(now) {
				return 0, false, tx.Commit()
			}
		}
		next := fencingToken + 1
		if _, err := tx.ExecContext(ctx, `
			UPDATE leases SET owner_token = ?, lease_until = ?, fencing_token = ? WHERE resource_name = ?
		`, owner, untilStr, next, resource); err != nil {
			return 0, false, err
		}
		return next, true, tx.Commit()
	default:
		return 0, false, err
	}
}

func (b *SQLiteBackend) Renew(ctx context.Context, resource, owner string, until time.Time) (int64, bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var ownerToken sql.NullString
	var fencingToken int64
	err = tx.QueryRowContext(ctx, `
		SELECT owner_token, fencing_token FROM leases WHERE resource_name = ?
	`, resource).Scan(&ownerToken, &fencingToken)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !ownerToken.Valid || ownerToken.String != owner {
		return 0, false, tx.Commit()
	}

	next := fencingToken + 1
	if _, err := tx.ExecContext(ctx, `
		UPDATE leases SET lease_until = ?, fencing_token = ? WHERE resource_name = ?
	`, until.UTC().Format(time.RFC3339Nano), next, resource); err != nil {
		return 0, false, err
	}
	return next, true, tx.Commit()
}

func (b *SQLiteBackend) Release(ctx context.Context, resource, owner string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE leases SET owner_token = NULL, lease_until = NULL WHERE resource_name = ? AND owner_token = ?
	`, resource, owner)
	return err
}

func (b *SQLiteBackend) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE leases SET owner_token = NULL, lease_until = NULL
		WHERE lease_until IS NOT NULL AND lease_until <= ?
	`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package lease

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend implements Backend with an explicit SELECT ... FOR UPDATE
// transaction per call, the same locking shape repository.go uses for
// event_capacity/joins rows, rather than a single upsert statement, so the
// read-then-decide-then-write logic stays in Go where it is easier to
// extend.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

var _ Backend = (*PostgresBackend)(nil)

func (b *PostgresBackend) Acquire(ctx context.Context, resource, owner string, now, until time.Time) (int64, bool, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ownerToken *string
	var leaseUntil *time.Time
	var fencingToken int64
	err = tx.QueryRow(ctx, `
		SELECT owner_token, lease_until, fencing_token FROM leases WHERE resource_name = $1 FOR UPDATE
	`, resource).Scan(&ownerToken, &leaseUntil, &fencingToken)

	switch err {
	case pgx.ErrNoRows:
		if _, err := tx.Exec(ctx, `
			INSERT INTO leases (resource_name, owner_token, lease_until, fencing_token) VALUES ($1, $2, $3, 1)
		`, resource, owner, until); err != nil {
			return 0, false, err
		}
		return 1, true, tx.Commit(ctx)
	case nil:
		if leaseUntil != nil && leaseUntil.After(now) {
			return 0, false, tx.Commit(ctx)
		}
		next := fencingToken + 1
		if _, err := tx.Exec(ctx, `
			UPDATE leases SET owner_token = $2, lease_until = $3, fencing_token = $4 WHERE resource_name = $1
		`, resource, owner, until, next); err != nil {
			return 0, false, err
		}
		return next, true, tx.Commit(ctx)
	default:
		return 0, false, err
	}
}

func (b *PostgresBackend) Renew(ctx context.Context, resource, owner string, until time.Time) (int64, bool, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ownerToken *string
	var fencingToken int64
	err = tx.QueryRow(ctx, `
		SELECT owner_token, fencing_token FROM leases WHERE resource_name = $1 FOR UPDATE
	`, resource).Scan(&ownerToken, &fencingToken)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if ownerToken == nil || *ownerToken != owner {
		return 0, false, tx.Commit(ctx)
	}

	next := fencingToken + 1
	if _, err := tx.Exec(ctx, `
		UPDATE leases SET lease_until = $2, fencing_token = $3 WHERE resource_name = $1
	`, resource, until, next); err != nil {
		return 0, false, err
	}
	return next, true, tx.Commit(ctx)
}

func (b *PostgresBackend) Release(ctx context.Context, resource, owner string) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE leases SET owner_token = NULL, lease_until = NULL WHERE resource_name = $1 AND owner_token = $2
	`, resource, owner)
	return err
}

func (b *PostgresBackend) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE leases SET owner_token = NULL, lease_until = NULL
		WHERE lease_until IS NOT NULL AND lease_until <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Package postgres implements the row-locking storage adapter against
// PostgreSQL via pgx, grounded on
// services/join-service/internal/infrastructure/postgres's claim/ack
// transaction shape (outbox_worker.go's processOutboxBatch, repository.go's
// FOR UPDATE / FOR UPDATE SKIP LOCKED usage).
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/storage"
)

// Adapter is the Postgres-backed storage.Adapter.
type Adapter struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool}
}

var _ storage.Adapter = (*Adapter)(nil)

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
}

func statusLiteral(spec storage.TableSpec, s string) string {
	if !spec.UseStringStatus {
		switch s {
		case "ready":
			return fmt.Sprintf("%d", spec.ReadyInt)
		case "in_progress":
			return fmt.Sprintf("%d", spec.InProgressInt)
		case "done":
			return fmt.Sprintf("%d", spec.DoneInt)
		case "dead":
			return fmt.Sprintf("%d", spec.DeadInt)
		}
		return ""
	}
	switch s {
	case "ready":
		return "'" + spec.ReadyStr + "'"
	case "in_progress":
		return "'" + spec.InProgressStr + "'"
	case "done":
		return "'" + spec.DoneStr + "'"
	case "dead":
		return "'" + spec.DeadStr + "'"
	}
	return ""
}

// Claim issues one SELECT ... FOR UPDATE SKIP LOCKED followed by one UPDATE
// inside a single transaction, the same two-statement shape
// processOutboxBatch uses, generalized over table/status encoding.
func (a *Adapter) Claim(ctx context.Context, spec storage.ClaimSpec) ([]string, error) {
	if spec.BatchSize <= 0 {
		return nil, nil
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	selectSQL := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE status = %s
		  AND (locked_until IS NULL OR locked_until <= $1)
		  AND (due_at IS NULL OR due_at <= $1)
		ORDER BY %s ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, spec.Table, statusLiteral(spec.TableSpec, "ready"), spec.OrderBy)

	rows, err := tx.Query(ctx, selectSQL, spec.Now, spec.BatchSize)
	if err != nil {
		return nil, wrapErr(err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapErr(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	lockedUntil := spec.Now.Add(time.Duration(spec.LeaseSeconds) * time.Second)
	updateSQL := fmt.Sprintf(`
		UPDATE %s
		SET status = %s, owner_token = $1, locked_until = $2
		WHERE id = ANY($3)
	`, spec.Table, statusLiteral(spec.TableSpec, "in_progress"))
	if _, err := tx.Exec(ctx, updateSQL, spec.OwnerToken, lockedUntil, ids); err != nil {
		return nil, wrapErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err)
	}
	return ids, nil
}

func (a *Adapter) Ack(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = %s, owner_token = NULL, locked_until = NULL, processed_at = $3
		WHERE owner_token = $1 AND status = %s AND id = ANY($2)
	`, spec.Table, statusLiteral(spec, "done"), statusLiteral(spec, "in_progress"))
	tag, err := a.pool.Exec(ctx, sql, ownerToken, ids, now)
	if err != nil {
		return 0, wrapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (a *Adapter) Abandon(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, opts storage.AbandonOpts) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, `UPDATE %s SET status = %s, owner_token = NULL, locked_until = NULL, attempts = attempts + 1`,
		spec.Table, statusLiteral(spec, "ready"))
	args := []any{ownerToken, ids}
	argN := 3
	if opts.LastError != nil {
		fmt.Fprintf(&b, ", last_error = $%d", argN)
		args = append(args, *opts.LastError)
		argN++
	}
	if opts.DueAt != nil {
		fmt.Fprintf(&b, ", due_at = $%d", argN)
		args = append(args, *opts.DueAt)
		argN++
	}
	fmt.Fprintf(&b, " WHERE owner_token = $1 AND status = %s AND id = ANY($2)", statusLiteral(spec, "in_progress"))

	tag, err := a.pool.Exec(ctx, b.String(), args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (a *Adapter) Fail(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = %s, owner_token = NULL, locked_until = NULL, last_error = $3
		WHERE owner_token = $1 AND status = %s AND id = ANY($2)
	`, spec.Table, statusLiteral(spec, "dead"), statusLiteral(spec, "in_progress"))
	tag, err := a.pool.Exec(ctx, sql, ownerToken, ids, reason)
	if err != nil {
		return 0, wrapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (a *Adapter) Reap(ctx context.Context, spec storage.TableSpec, now time.Time) (int64, error) {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = %s, owner_token = NULL, locked_until = NULL
		WHERE status = %s AND locked_until <= $1
	`, spec.Table, statusLiteral(spec, "ready"), statusLiteral(spec, "in_progress"))
	tag, err := a.pool.Exec(ctx, sql, now)
	if err != nil {
		return 0, wrapErr(err)
	}
	return tag.RowsAffected(), nil
}

// WithTx runs fn against the pool inside a fresh transaction, rolling back
// on error and on panic, the same defer-rollback shape as repository.go.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Package sqlite implements the row-locking storage adapter against SQLite
// via modernc.org/sqlite, generalized from the same claim/ack shape as
// storage/postgres but serialized through BEGIN IMMEDIATE instead of
// FOR UPDATE SKIP LOCKED.
//
// SQLite has no row-level locking and no SKIP LOCKED: a single writer holds
// the database at a time. Claim therefore opens its transaction with
// BEGIN IMMEDIATE (acquired via the driver's _txlock=immediate DSN param, see
// Open) so the claim-then-update pair is atomic against other claimers, but
// two dispatchers calling Claim concurrently serialize rather than run in
// parallel the way Postgres's SKIP LOCKED allows. This is a documented
// backend limitation, not an attempt to fake true concurrent claiming.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/storage"
)

// Adapter is the SQLite-backed storage.Adapter.
type Adapter struct {
	db *sql.DB
}

func New(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

var _ storage.Adapter = (*Adapter)(nil)

// Open opens db at path with _txlock=immediate so every *sql.Tx begins with
// BEGIN IMMEDIATE, matching the serialization Claim depends on.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	// A single *sql.DB connection keeps BEGIN IMMEDIATE serialization
	// meaningful; with pooled connections two goroutines could each grab a
	// separate connection and both believe they hold the write lock.
	db.SetMaxOpenConns(1)
	return db, nil
}

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

// Claim runs the select+update pair inside a single BEGIN IMMEDIATE
// transaction. Since SQLite has no SKIP LOCKED, the transaction itself is
// the mutual-exclusion mechanism: a second concurrent Claim call blocks at
// BEGIN IMMEDIATE until this one commits or rolls back, rather than finding
// a disjoint row set the way Postgres does.
func (a *Adapter) Claim(ctx context.Context, spec storage.ClaimSpec) ([]string, error) {
	if spec.BatchSize <= 0 {
		return nil, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	selectSQL := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE status = %s
		  AND (locked_until IS NULL OR locked_until <= ?)
		  AND (due_at IS NULL OR due_at <= ?)
		ORDER BY %s ASC, id ASC
		LIMIT ?
	`, spec.Table, statusLiteral(spec.TableSpec, "ready"), spec.OrderBy)

	nowStr := spec.Now.UTC().Format(time.RFC3339Nano)
	rows, err := tx.QueryContext(ctx, selectSQL, nowStr, nowStr, spec.BatchSize)
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
		return nil, tx.Commit()
	}

	lockedUntil := spec.Now.Add(time.Duration(spec.LeaseSeconds) * time.Second).UTC().Format(time.RFC3339Nano)
	updateSQL := fmt.Sprintf(`
		UPDATE %s
		SET status = %s, owner_token = ?, locked_until = ?
		WHERE id IN (%s)
	`, spec.Table, statusLiteral(spec.TableSpec, "in_progress"), placeholders(len(ids)))

	args := make([]any, 0, len(ids)+2)
	args = append(args, spec.OwnerToken, lockedUntil)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx, updateSQL, args...); err != nil {
		return nil, wrapErr(err)
	}

	if err := tx.Commit(); err != nil {
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
		SET status = %s, owner_token = NULL, locked_until = NULL, processed_at = ?
		WHERE owner_token = ? AND status = %s AND id IN (%s)
	`, spec.Table, statusLiteral(spec, "done"), statusLiteral(spec, "in_progress"), placeholders(len(ids)))

	args := make([]any, 0, len(ids)+2)
	args = append(args, now.UTC().Format(time.RFC3339Nano), ownerToken)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := a.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

func (a *Adapter) Abandon(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, opts storage.AbandonOpts) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	setClauses := fmt.Sprintf("status = %s, owner_token = NULL, locked_until = NULL, attempts = attempts + 1",
		statusLiteral(spec, "ready"))
	args := []any{}
	if opts.LastError != nil {
		setClauses += ", last_error = ?"
		args = append(args, *opts.LastError)
	}
	if opts.DueAt != nil {
		setClauses += ", due_at = ?"
		args = append(args, opts.DueAt.UTC().Format(time.RFC3339Nano))
	}

	sqlStr := fmt.Sprintf(`
		UPDATE %s SET %s
		WHERE owner_token = ? AND status = %s AND id IN (%s)
	`, spec.Table, setClauses, statusLiteral(spec, "in_progress"), placeholders(len(ids)))

	args = append(args, ownerToken)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := a.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

func (a *Adapter) Fail(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = %s, owner_token = NULL, locked_until = NULL, last_error = ?
		WHERE owner_token = ? AND status = %s AND id IN (%s)
	`, spec.Table, statusLiteral(spec, "dead"), statusLiteral(spec, "in_progress"), placeholders(len(ids)))

	args := make([]any, 0, len(ids)+2)
	args = append(args, reason, ownerToken)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := a.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

func (a *Adapter) Reap(ctx context.Context, spec storage.TableSpec, now time.Time) (int64, error) {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = %s, owner_token = NULL, locked_until = NULL
		WHERE status = %s AND locked_until <= ?
	`, spec.Table, statusLiteral(spec, "ready"), statusLiteral(spec, "in_progress"))
	res, err := a.db.ExecContext(ctx, sql, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

func placeholders(n int) string {
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}

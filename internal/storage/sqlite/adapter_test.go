package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/queuecore/internal/storage"
	"github.com/baechuer/queuecore/internal/storage/sqlite"
)

func newTestDB(t *testing.T) (*sql.DB, *sqlite.Adapter) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queuecore.db")
	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(sqlite.Schema)
	require.NoError(t, err)

	return db, sqlite.New(db)
}

func TestAdapter_ClaimAckAbandonFail_SQLite(t *testing.T) {
	db, a := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	spec := storage.IntTableSpec("outbox", "created_at")

	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (id, message_id, topic, payload, status, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, id, "m1", "orders.created", []byte("payload"), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	require.NoError(t, err)

	ids, err := a.Claim(ctx, storage.ClaimSpec{
		TableSpec:    spec,
		OwnerToken:   "worker-a",
		LeaseSeconds: 30,
		BatchSize:    10,
		Now:          now,
	})
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)

	// Nothing left ready for a second claimant.
	ids2, err := a.Claim(ctx, storage.ClaimSpec{
		TableSpec:    spec,
		OwnerToken:   "worker-b",
		LeaseSeconds: 30,
		BatchSize:    10,
		Now:          now,
	})
	require.NoError(t, err)
	require.Empty(t, ids2)

	n, err := a.Ack(ctx, spec, "worker-a", ids, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Acking again affects nothing: row is already Done.
	n2, err := a.Ack(ctx, spec, "worker-a", ids, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(0), n2)
}

func TestAdapter_AbandonRequeues_SQLite(t *testing.T) {
	db, a := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	spec := storage.IntTableSpec("outbox", "created_at")

	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (id, message_id, topic, payload, status, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, id, "m2", "orders.created", []byte("p"), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	require.NoError(t, err)

	ids, err := a.Claim(ctx, storage.ClaimSpec{TableSpec: spec, OwnerToken: "w1", LeaseSeconds: 30, BatchSize: 5, Now: now})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	lastErr := "downstream timeout"
	due := now.Add(time.Minute)
	n, err := a.Abandon(ctx, spec, "w1", ids, storage.AbandonOpts{LastError: &lastErr, DueAt: &due})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Not yet due: a claim at `now` finds nothing.
	none, err := a.Claim(ctx, storage.ClaimSpec{TableSpec: spec, OwnerToken: "w2", LeaseSeconds: 30, BatchSize: 5, Now: now})
	require.NoError(t, err)
	require.Empty(t, none)

	// Due after the backoff window: claimable again.
	later, err := a.Claim(ctx, storage.ClaimSpec{TableSpec: spec, OwnerToken: "w2", LeaseSeconds: 30, BatchSize: 5, Now: due.Add(time.Second)})
	require.NoError(t, err)
	require.Equal(t, ids, later)
}

func TestAdapter_Fail_SQLite(t *testing.T) {
	db, a := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	spec := storage.StringTableSpec("inbox", "first_seen_at")

	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO inbox (id, source, message_id, topic, payload, hash, status, first_seen_at, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, 'Seen', ?, ?, ?)
	`, id, "partner-api", "evt-1", "partner.updated", []byte("p"), "hash1",
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	require.NoError(t, err)

	ids, err := a.Claim(ctx, storage.ClaimSpec{TableSpec: spec, OwnerToken: "w1", LeaseSeconds: 30, BatchSize: 5, Now: now})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	n, err := a.Fail(ctx, spec, "w1", ids, "schema validation failed")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var status string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT status FROM inbox WHERE id = ?`, id).Scan(&status))
	require.Equal(t, "Dead", status)
}

func TestAdapter_Reap_SQLite(t *testing.T) {
	db, a := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	spec := storage.IntTableSpec("timers", "due_at")

	id := uuid.NewString()
	past := now.Add(-time.Hour).Format(time.RFC3339Nano)
	_, err := db.ExecContext(ctx, `
		INSERT INTO timers (id, topic, payload, status, owner_token, locked_until, due_at, created_at, last_seen_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
	`, id, "reminders.fire", []byte("p"), "stale-owner", past, past, past, past)
	require.NoError(t, err)

	n, err := a.Reap(ctx, spec, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	ids, err := a.Claim(ctx, storage.ClaimSpec{TableSpec: spec, OwnerToken: "worker-c", LeaseSeconds: 30, BatchSize: 10, Now: now})
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)
}

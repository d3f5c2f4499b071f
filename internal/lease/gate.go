package lease

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrGateAlreadyHeld mirrors dblock.go's ErrAlreadyLocked: a Gate instance
// only ever holds one advisory lock at a time.
var ErrGateAlreadyHeld = errors.New("lease: gate already held")

// Gate is a session-scoped PostgreSQL advisory lock, generalized from
// repository_after/dblock/dblock.go's DatabaseLockHelper. Unlike the
// row-based Manager lease, a Gate holds a real database session lock for
// the lifetime of a dedicated connection: it is the coarser, cheaper
// primitive cmd/queuehost puts in front of the Scheduler materializer loop
// so only one process in the fleet runs it at a time, layered in front of
// (not instead of) the fencing-token lease that loop also acquires before
// touching rows. The Fanout coordinator is not gated; it relies on its
// Manager lease alone.
//
// SQLite has no advisory lock primitive; a Gate is Postgres-only and hosts
// running on SQLite skip it, relying on the Manager's row-based lease
// alone (acceptable there since SQLite's own BEGIN IMMEDIATE already
// serializes writers process-wide).
type Gate struct {
	pool   *pgxpool.Pool
	name   string
	lockID int64

	conn   *pgxpool.Conn
	locked bool
}

func NewGate(pool *pgxpool.Pool, name string) *Gate {
	return &Gate{pool: pool, name: name, lockID: computeLockID(name)}
}

func computeLockID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAcquire attempts a non-blocking pg_try_advisory_lock, retrying
// maxRetries times with linear backoff, the same try-then-backoff loop
// AcquireLock uses before falling back to a blocking call.
func (g *Gate) TryAcquire(ctx context.Context, maxRetries int) (bool, error) {
	if g.locked {
		return false, ErrGateAlreadyHeld
	}

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			conn.Release()
			return false, err
		}

		var acquired bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", g.lockID).Scan(&acquired); err != nil {
			conn.Release()
			return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
		}
		if acquired {
			g.conn = conn
			g.locked = true
			return true, nil
		}

		if attempt < maxRetries {
			backoff := time.Duration((attempt+1)*100) * time.Millisecond
			select {
			case <-ctx.Done():
				conn.Release()
				return false, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	conn.Release()
	return false, nil
}

// Release unlocks and returns the dedicated connection to the pool.
func (g *Gate) Release(ctx context.Context) error {
	if !g.locked {
		return nil
	}
	_, err := g.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", g.lockID)
	g.conn.Release()
	g.locked = false
	g.conn = nil
	return err
}

// Package idempotency implements the idempotency store (component D,
// spec.md §4.D): a dedupe fence that reclaims Open, Failed, and
// expired-InFlight rows the same way lease/postgres.go's Acquire reclaims
// an expired lease, plus a transactional "process once" helper, generalized
// from join-service/internal/infrastructure/postgres/processed_messages.go's
// TryMarkProcessed/ProcessOnce.
package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baechuer/queuecore/internal/domain"
)

// Record is the row idempotency_records tracks for one key: its dedupe
// fence plus enough state to let a caller distinguish "never attempted"
// from "attempted and still running" from "completed" (spec.md §4.D
// states: Open/InFlight/Completed/Failed).
type Record struct {
	Key          string
	Status       RecordStatus
	LockedUntil  *time.Time
	LockedBy     string
	FailureCount int
}

type RecordStatus string

const (
	StatusOpen      RecordStatus = "open"
	StatusInFlight  RecordStatus = "in_flight"
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
)

// Backend is the storage contract a Store needs: an atomic begin-or-detect-
// duplicate primitive plus completion/failure transitions. Backends
// (postgres, sqlite) implement this directly against idempotency_records;
// it is intentionally narrower than storage.Adapter because idempotency
// records have no claim/lease lifecycle of their own.
type Backend interface {
	// TryBegin claims key into StatusInFlight with lockedUntil. A key with
	// no existing row, or whose row is Open, Failed, or InFlight with an
	// expired lock, is claimed (ok=true) and the caller must call Complete
	// or Fail. A key that is Completed, or InFlight with an unexpired lock
	// held by someone else, is reported back unmutated (ok=false).
	TryBegin(ctx context.Context, key string, owner string, lockedUntil time.Time) (rec Record, ok bool, err error)

	Complete(ctx context.Context, key string) error
	Fail(ctx context.Context, key string) error

	// ReleaseExpired resets InFlight records whose lock has expired back to
	// Open, covering a worker that crashed mid-processing.
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
}

type Store struct {
	backend Backend
	lease   time.Duration
}

func New(backend Backend, lease time.Duration) *Store {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Store{backend: backend, lease: lease}
}

// ProcessOnce runs fn at most once per key: a duplicate call while the
// first is in flight or after it completed returns processed=false and fn
// is never invoked, mirroring ProcessOnce's "duplicate delivery: don't
// execute fn" contract. fn failing marks the record Failed so a retry with
// the same key is allowed to try again rather than being fenced forever.
func (s *Store) ProcessOnce(ctx context.Context, key, owner string, now time.Time, fn func(ctx context.Context) error) (processed bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		// No key means no safe dedupe is possible; run fn best-effort
		// rather than silently dropping the work, same trade-off
		// ProcessOnce makes for an empty messageID.
		if err := fn(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	// Duplicate delivery of a key that is still in flight, or already
	// completed, is skipped outright. A key that previously failed is
	// reclaimed here: fail() releases the claim so a retry can run, per
	// spec.md §4.D, rather than fencing the key forever.
	_, won, err := s.backend.TryBegin(ctx, key, owner, now.Add(s.lease))
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !won {
		return false, nil
	}

	return s.run(ctx, key, fn)
}

func (s *Store) run(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	if err := fn(ctx); err != nil {
		if failErr := s.backend.Fail(ctx, key); failErr != nil {
			return false, fmt.Errorf("%w: %v", domain.ErrTransientStorage, failErr)
		}
		return false, err
	}
	if err := s.backend.Complete(ctx, key); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return true, nil
}

// ReleaseExpired recovers InFlight records whose owner crashed before
// calling Complete/Fail.
func (s *Store) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.backend.ReleaseExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return n, nil
}

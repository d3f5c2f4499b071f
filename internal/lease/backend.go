package lease

import (
	"context"
	"time"
)

// Backend is the row-locking contract a Manager needs against the leases
// table: acquire (possibly taking over an expired lease), renew (extending
// an owned lease and minting a fresh fencing token), release, and a sweep
// for expired rows. Generalized from the FOR UPDATE transaction shape
// repository.go uses for event_capacity/joins row locking.
type Backend interface {
	// Acquire locks the resource's row (creating it if absent) and, if it
	// is unheld or expired as of now, assigns it to owner with the given
	// until and a fencing token one greater than the row's last value.
	// acquired=false means another owner currently and validly holds it.
	Acquire(ctx context.Context, resource, owner string, now, until time.Time) (fencingToken int64, acquired bool, err error)

	// Renew extends an owned lease's until and mints a new fencing token.
	// ok=false means owner no longer matches the current holder (lost).
	Renew(ctx context.Context, resource, owner string, until time.Time) (fencingToken int64, ok bool, err error)

	// Release clears ownership if owner still matches; a mismatch is not
	// an error, since a lease that has already been taken over by a new
	// owner has nothing left for the old owner to release.
	Release(ctx context.Context, resource, owner string) error

	// CleanupExpired clears ownership on every row whose until has passed,
	// returning the count of rows it touched.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

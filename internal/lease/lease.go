// Package lease implements the fencing-token lease manager (component C,
// spec.md §4.C): exclusive, renewable ownership of a named resource backed
// by a single row per resource, with a monotonically increasing fencing
// token every caller must present to downstream systems so a stale holder
// can never out-race the current one.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/baechuer/queuecore/internal/domain"
)

// Lease is a held lease handle. It is not safe for concurrent use by
// multiple goroutines except via the Cancelled channel and ThrowIfLost,
// which are read-only.
type Lease struct {
	resource     string
	owner        string
	fencingToken int64

	mu        sync.Mutex
	until     time.Time
	lost      bool
	cancelled chan struct{}
	closeOnce sync.Once

	manager *Manager
}

// Resource is the name this lease guards.
func (l *Lease) Resource() string { return l.resource }

// Owner is this holder's opaque owner token.
func (l *Lease) Owner() string { return l.owner }

// FencingToken is the monotonically increasing token minted on every
// acquire and every successful renewal (spec.md §4.C invariant: fencing
// tokens strictly increase even across same-owner renewals, so a writer
// that stalls past its lease and later wakes up presents a token any
// downstream system can reject as stale).
func (l *Lease) FencingToken() int64 { return l.fencingToken }

// Cancelled is closed the moment the lease is believed lost, either
// because a renewal failed or because the holder called Release.
func (l *Lease) Cancelled() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}

// ThrowIfLost returns domain.ErrLostLease if the lease is no longer held.
func (l *Lease) ThrowIfLost() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return domain.ErrLostLease
	}
	return nil
}

func (l *Lease) markLost() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return
	}
	l.lost = true
	l.closeOnce.Do(func() { close(l.cancelled) })
}

// TryRenewNow renews synchronously outside the background renewer's
// cadence, e.g. right before a long-held caller commits its work.
func (l *Lease) TryRenewNow(ctx context.Context) error {
	return l.manager.renew(ctx, l)
}

// Release gives up the lease early. Safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	l.manager.release(ctx, l)
	l.markLost()
	return nil
}

package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/metrics"
)

// maxConsecutiveRenewFailures is the spec.md §4.C threshold ("two
// consecutive failed renewals") before a transient renew error is treated
// as lease loss rather than retried on the next tick.
const maxConsecutiveRenewFailures = 2

// Manager hands out Leases backed by Backend, optionally starting a
// background renewer goroutine per lease (spec.md §4.C: "the holder does
// not need to remember to renew; a lease renews itself at a fixed fraction
// of its duration until released or lost").
type Manager struct {
	backend Backend
	log     zerolog.Logger

	duration     time.Duration
	renewPercent float64

	now func() time.Time
}

func NewManager(backend Backend, duration time.Duration, renewPercent float64, log zerolog.Logger) *Manager {
	if renewPercent <= 0 || renewPercent >= 1 {
		renewPercent = 0.5
	}
	return &Manager{backend: backend, duration: duration, renewPercent: renewPercent, log: log, now: time.Now}
}

// Acquire attempts to take resource for a new, randomly generated owner
// token, starting a background renewer that keeps the lease alive until
// Release is called or a renewal fails. A failed acquire (already held)
// returns (nil, false, nil), not an error, so callers can poll/back off.
func (m *Manager) Acquire(ctx context.Context, resource string) (*Lease, bool, error) {
	owner := uuid.NewString()
	now := m.now()
	until := now.Add(m.duration)

	token, ok, err := m.backend.Acquire(ctx, resource, owner, now, until)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	metrics.RecordLeaseAcquire(ok)
	if !ok {
		return nil, false, nil
	}

	l := &Lease{
		resource:     resource,
		owner:        owner,
		fencingToken: token,
		until:        until,
		cancelled:    make(chan struct{}),
		manager:      m,
	}
	go m.runRenewer(ctx, l)
	return l, true, nil
}

func (m *Manager) renew(ctx context.Context, l *Lease) error {
	until := m.now().Add(m.duration)
	token, ok, err := m.backend.Renew(ctx, l.resource, l.owner, until)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !ok {
		metrics.RecordLeaseRenewal(false)
		l.markLost()
		return domain.ErrLostLease
	}
	metrics.RecordLeaseRenewal(true)
	l.mu.Lock()
	l.fencingToken = token
	l.until = until
	l.mu.Unlock()
	return nil
}

func (m *Manager) release(ctx context.Context, l *Lease) {
	if err := m.backend.Release(ctx, l.resource, l.owner); err != nil {
		m.log.Warn().Err(err).Str("resource", l.resource).Msg("lease release failed")
		return
	}
	metrics.RecordLeaseReleased()
}

// runRenewer renews l every duration*renewPercent until ctx is cancelled,
// the lease is released, or the backend definitively reports it lost
// (renew's !ok case). A transient storage error does not by itself mark
// the lease lost: it is retried on the next tick, and only
// maxConsecutiveRenewFailures in a row (spec.md §4.C: "two consecutive
// failed renewals") causes the lease to be marked lost. Any intervening
// successful renewal resets the counter. The goroutine never returns
// without first marking the lease lost, so callers blocked on
// Cancelled()/ThrowIfLost always wake up once renewal has truly stopped
// (spec.md §4.C invariant 2: a caller must learn of lease loss before its
// fencing token can be considered stale elsewhere).
func (m *Manager) runRenewer(ctx context.Context, l *Lease) {
	interval := time.Duration(float64(m.duration) * m.renewPercent)
	if interval <= 0 {
		interval = m.duration / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			l.markLost()
			return
		case <-l.Cancelled():
			return
		case <-ticker.C:
			err := m.renew(ctx, l)
			switch {
			case err == nil:
				consecutiveFailures = 0
			case errors.Is(err, domain.ErrLostLease):
				// renew already called l.markLost() for the definitive !ok case.
				return
			default:
				consecutiveFailures++
				m.log.Warn().Err(err).Str("resource", l.resource).
					Int("consecutive_failures", consecutiveFailures).
					Msg("transient lease renewal error")
				if consecutiveFailures >= maxConsecutiveRenewFailures {
					m.log.Warn().Str("resource", l.resource).Msg("lease renewal failed repeatedly, lease lost")
					l.markLost()
					return
				}
			}
		}
	}
}

// CleanupExpired sweeps leases whose holder never released or renewed in
// time, recovering their resource_name row for the next Acquire.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.backend.CleanupExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return n, nil
}

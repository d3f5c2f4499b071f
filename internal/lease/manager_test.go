package lease_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/lease"
)

type fakeRow struct {
	owner        string
	until        time.Time
	fencingToken int64
}

type fakeBackend struct {
	mu   sync.Mutex
	rows map[string]*fakeRow

	failRenew     bool
	renewErr      error
	renewErrCount int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: make(map[string]*fakeRow)}
}

var _ lease.Backend = (*fakeBackend)(nil)

func (b *fakeBackend) Acquire(ctx context.Context, resource, owner string, now, until time.Time) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[resource]
	if !ok {
		r = &fakeRow{}
		b.rows[resource] = r
	}
	if r.owner != "" && r.until.After(now) {
		return 0, false, nil
	}
	r.owner = owner
	r.until = until
	r.fencingToken++
	return r.fencingToken, true, nil
}

func (b *fakeBackend) Renew(ctx context.Context, resource, owner string, until time.Time) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failRenew {
		return 0, false, nil
	}
	if b.renewErr != nil && b.renewErrCount > 0 {
		b.renewErrCount--
		return 0, false, b.renewErr
	}
	r, ok := b.rows[resource]
	if !ok || r.owner != owner {
		return 0, false, nil
	}
	r.until = until
	r.fencingToken++
	return r.fencingToken, true, nil
}

func (b *fakeBackend) Release(ctx context.Context, resource, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rows[resource]; ok && r.owner == owner {
		r.owner = ""
	}
	return nil
}

func (b *fakeBackend) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, r := range b.rows {
		if r.owner != "" && !r.until.After(now) {
			r.owner = ""
			n++
		}
	}
	return n, nil
}

func TestManager_AcquireRelease(t *testing.T) {
	backend := newFakeBackend()
	m := lease.NewManager(backend, time.Hour, 0.5, zerolog.Nop())

	l, ok, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), l.FencingToken())

	require.NoError(t, l.Release(context.Background()))

	select {
	case <-l.Cancelled():
	case <-time.After(time.Second):
		t.Fatal("expected Cancelled to be closed after Release")
	}
	require.ErrorIs(t, l.ThrowIfLost(), domain.ErrLostLease)
}

func TestManager_SecondAcquireBlockedWhileHeld(t *testing.T) {
	backend := newFakeBackend()
	m := lease.NewManager(backend, time.Hour, 0.5, zerolog.Nop())

	_, ok1, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.True(t, ok1)

	_, ok2, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestManager_FencingTokenIncreasesAcrossAcquires(t *testing.T) {
	backend := newFakeBackend()
	m := lease.NewManager(backend, time.Millisecond, 0.5, zerolog.Nop())

	l1, ok, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.True(t, ok)
	token1 := l1.FencingToken()
	require.NoError(t, l1.Release(context.Background()))

	l2, ok, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, l2.FencingToken(), token1)
}

func TestManager_RenewerRenewsAndIncrementsToken(t *testing.T) {
	backend := newFakeBackend()
	m := lease.NewManager(backend, 30*time.Millisecond, 0.3, zerolog.Nop())

	l, ok, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.True(t, ok)
	initial := l.FencingToken()

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, l.ThrowIfLost())
	require.Greater(t, l.FencingToken(), initial)
}

func TestManager_RenewalFailureMarksLeaseLost(t *testing.T) {
	backend := newFakeBackend()
	m := lease.NewManager(backend, 20*time.Millisecond, 0.5, zerolog.Nop())

	l, ok, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.True(t, ok)

	backend.mu.Lock()
	backend.failRenew = true
	backend.mu.Unlock()

	select {
	case <-l.Cancelled():
	case <-time.After(time.Second):
		t.Fatal("expected lease to be marked lost after a failed renewal")
	}
	require.ErrorIs(t, l.ThrowIfLost(), domain.ErrLostLease)
}

func TestManager_TransientRenewalErrorRetriesThenLosesLease(t *testing.T) {
	backend := newFakeBackend()
	m := lease.NewManager(backend, 20*time.Millisecond, 0.5, zerolog.Nop())

	l, ok, err := m.Acquire(context.Background(), "scheduler")
	require.NoError(t, err)
	require.True(t, ok)

	backend.mu.Lock()
	backend.renewErr = errors.New("connection reset")
	backend.renewErrCount = 1
	backend.mu.Unlock()

	// A single transient error must not mark the lease lost: it should be
	// retried on the next tick and succeed once the backend recovers.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.ThrowIfLost())
	select {
	case <-l.Cancelled():
		t.Fatal("lease should survive a single transient renewal error")
	default:
	}

	backend.mu.Lock()
	backend.renewErr = errors.New("connection reset")
	backend.renewErrCount = 1000 // keep failing every tick
	backend.mu.Unlock()

	select {
	case <-l.Cancelled():
	case <-time.After(time.Second):
		t.Fatal("expected lease to be marked lost after repeated transient renewal errors")
	}
	require.ErrorIs(t, l.ThrowIfLost(), domain.ErrLostLease)
}

func TestManager_CleanupExpired(t *testing.T) {
	backend := newFakeBackend()
	m := lease.NewManager(backend, time.Hour, 0.5, zerolog.Nop())

	backend.rows["stale"] = &fakeRow{owner: "dead-worker", until: time.Now().Add(-time.Minute), fencingToken: 3}

	n, err := m.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

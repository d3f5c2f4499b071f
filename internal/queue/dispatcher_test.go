package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/storage"
)

func TestEngine_ClaimAck(t *testing.T) {
	now := time.Now()
	adapter := newFakeAdapter(&fakeRow{id: "1", topic: "orders.created", payload: []byte("p"), status: "ready"})
	engine := queue.New(adapter, storage.IntTableSpec("outbox", "created_at"), &fakeLoader{a: adapter})
	engine.Now = func() time.Time { return now }

	items, err := engine.Claim(context.Background(), "worker-a", 30, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "orders.created", items[0].Topic)

	n, err := engine.Ack(context.Background(), "worker-a", []string{"1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestDispatcher_OkAcks(t *testing.T) {
	adapter := newFakeAdapter(&fakeRow{id: "1", topic: "orders.created", payload: []byte("p"), status: "ready"})
	engine := queue.New(adapter, storage.IntTableSpec("outbox", "created_at"), &fakeLoader{a: adapter})

	handlers := domain.NewRegistry().Register("orders.created", domain.HandlerFunc(
		func(ctx context.Context, topic string, payload []byte) domain.HandlerOutcome {
			return domain.Ok()
		}))

	d := queue.NewDispatcher(engine, handlers, queue.DispatcherConfig{
		BatchSize: 10, LeaseSeconds: 30, PollInterval: time.Hour, ReapInterval: time.Hour,
		MaxAttempts: 5, Backoff: queue.Backoff{BaseSeconds: 1, CapSeconds: 10},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go d.Run(ctx)
	<-ctx.Done()

	require.Equal(t, "done", adapter.rows["1"].status)
}

func TestDispatcher_TransientAbandonsWithBackoff(t *testing.T) {
	adapter := newFakeAdapter(&fakeRow{id: "1", topic: "orders.created", payload: []byte("p"), status: "ready"})
	engine := queue.New(adapter, storage.IntTableSpec("outbox", "created_at"), &fakeLoader{a: adapter})

	handlers := domain.NewRegistry().Register("orders.created", domain.HandlerFunc(
		func(ctx context.Context, topic string, payload []byte) domain.HandlerOutcome {
			return domain.Transient("downstream unavailable")
		}))

	d := queue.NewDispatcher(engine, handlers, queue.DispatcherConfig{
		BatchSize: 10, LeaseSeconds: 30, PollInterval: time.Hour, ReapInterval: time.Hour,
		MaxAttempts: 5, Backoff: queue.Backoff{BaseSeconds: 1, CapSeconds: 10},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go d.Run(ctx)
	<-ctx.Done()

	row := adapter.rows["1"]
	require.Equal(t, "ready", row.status)
	require.Equal(t, 1, row.attempts)
	require.NotNil(t, row.dueAt)
	require.True(t, row.dueAt.After(time.Now()))
}

func TestDispatcher_PermanentFails(t *testing.T) {
	adapter := newFakeAdapter(&fakeRow{id: "1", topic: "orders.created", payload: []byte("p"), status: "ready"})
	engine := queue.New(adapter, storage.IntTableSpec("outbox", "created_at"), &fakeLoader{a: adapter})

	handlers := domain.NewRegistry().Register("orders.created", domain.HandlerFunc(
		func(ctx context.Context, topic string, payload []byte) domain.HandlerOutcome {
			return domain.Permanent("payload schema invalid")
		}))

	d := queue.NewDispatcher(engine, handlers, queue.DispatcherConfig{
		BatchSize: 10, LeaseSeconds: 30, PollInterval: time.Hour, ReapInterval: time.Hour,
		MaxAttempts: 5, Backoff: queue.Backoff{BaseSeconds: 1, CapSeconds: 10},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go d.Run(ctx)
	<-ctx.Done()

	require.Equal(t, "dead", adapter.rows["1"].status)
}

func TestDispatcher_MaxAttemptsExceededFails(t *testing.T) {
	adapter := newFakeAdapter(&fakeRow{id: "1", topic: "orders.created", payload: []byte("p"), status: "ready", attempts: 4})
	engine := queue.New(adapter, storage.IntTableSpec("outbox", "created_at"), &fakeLoader{a: adapter})

	handlers := domain.NewRegistry().Register("orders.created", domain.HandlerFunc(
		func(ctx context.Context, topic string, payload []byte) domain.HandlerOutcome {
			return domain.Transient("still failing")
		}))

	d := queue.NewDispatcher(engine, handlers, queue.DispatcherConfig{
		BatchSize: 10, LeaseSeconds: 30, PollInterval: time.Hour, ReapInterval: time.Hour,
		MaxAttempts: 5, Backoff: queue.Backoff{BaseSeconds: 1, CapSeconds: 10},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go d.Run(ctx)
	<-ctx.Done()

	require.Equal(t, "dead", adapter.rows["1"].status)
}

func TestDispatcher_ReapsExpiredLeases(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	owner := "stale"
	adapter := newFakeAdapter(&fakeRow{id: "1", topic: "orders.created", payload: []byte("p"), status: "in_progress", ownerToken: &owner, lockedUntil: &past})
	engine := queue.New(adapter, storage.IntTableSpec("outbox", "created_at"), &fakeLoader{a: adapter})

	d := queue.NewDispatcher(engine, domain.NewRegistry(), queue.DispatcherConfig{
		BatchSize: 10, LeaseSeconds: 30, PollInterval: time.Hour, ReapInterval: 5 * time.Millisecond,
		MaxAttempts: 5, Backoff: queue.Backoff{BaseSeconds: 1, CapSeconds: 10},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go d.Run(ctx)
	<-ctx.Done()

	require.Equal(t, "ready", adapter.rows["1"].status)
}

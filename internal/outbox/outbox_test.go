package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/queuecore/internal/outbox"
	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/storage"
)

type outboxRow struct {
	id, topic string
	payload   []byte
	status    string
	attempts  int
}

// fakeStore is an in-memory outbox.Store for unit tests, playing the role
// sqlmock plays for the teacher's repository tests. It mirrors the real
// backends' distinction between the row's claim id and its message_id
// dedupe key.
type fakeStore struct {
	mu          sync.Mutex
	rows        map[string]*outboxRow // keyed by claim id
	byMessageID map[string]string     // messageID -> claim id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:        make(map[string]*outboxRow),
		byMessageID: make(map[string]string),
	}
}

func (s *fakeStore) Insert(ctx context.Context, messageID, topic string, payload []byte, correlationID string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, exists := s.byMessageID[messageID]; exists {
		return id, nil
	}
	id := uuid.NewString()
	s.byMessageID[messageID] = id
	s.rows[id] = &outboxRow{id: id, topic: topic, payload: payload, status: "ready"}
	return id, nil
}

func (s *fakeStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		r := s.rows[id]
		items = append(items, queue.Item{ID: r.id, Topic: r.topic, Payload: r.payload, Attempts: r.attempts})
	}
	return items, nil
}

// fakeAdapter implements storage.Adapter against fakeStore's rows map.
type fakeAdapter struct {
	store *fakeStore
}

var _ storage.Adapter = (*fakeAdapter)(nil)

func (a *fakeAdapter) Claim(ctx context.Context, spec storage.ClaimSpec) ([]string, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	var ids []string
	for id, r := range a.store.rows {
		if r.status != "ready" {
			continue
		}
		r.status = "in_progress"
		ids = append(ids, id)
		if len(ids) >= spec.BatchSize {
			break
		}
	}
	return ids, nil
}

func (a *fakeAdapter) Ack(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, now time.Time) (int64, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	var n int64
	for _, id := range ids {
		if r, ok := a.store.rows[id]; ok {
			r.status = "done"
			n++
		}
	}
	return n, nil
}

func (a *fakeAdapter) Abandon(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, opts storage.AbandonOpts) (int64, error) {
	return 0, nil
}

func (a *fakeAdapter) Fail(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, reason string) (int64, error) {
	return 0, nil
}

func (a *fakeAdapter) Reap(ctx context.Context, spec storage.TableSpec, now time.Time) (int64, error) {
	return 0, nil
}

func TestOutbox_EnqueueThenClaim(t *testing.T) {
	store := newFakeStore()
	ob := outbox.New(&fakeAdapter{store: store}, store)

	id, err := ob.Enqueue(context.Background(), "orders.created", []byte("payload"), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	items, err := ob.Engine.Claim(context.Background(), "worker-a", 30, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "orders.created", items[0].Topic)
	require.Equal(t, id, items[0].ID, "Enqueue's returned id must match the id Claim reports")

	n, err := ob.Engine.Ack(context.Background(), "worker-a", []string{id})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestOutbox_EnqueueIsIdempotentPerMessageID(t *testing.T) {
	store := newFakeStore()
	ob := outbox.New(&fakeAdapter{store: store}, store)

	// EnqueueWithID lets a caller supply messageID directly — the fan-out
	// coordinator's deterministic-dedupe path exercises exactly this.
	id1, err := ob.EnqueueWithID(context.Background(), "fixed-id", "orders.created", []byte("p1"), "")
	require.NoError(t, err)
	id2, err := ob.EnqueueWithID(context.Background(), "fixed-id", "orders.created", []byte("p2"), "")
	require.NoError(t, err)

	require.Equal(t, id1, id2, "a second Enqueue for the same messageID returns the original row's claim id")
	require.Len(t, store.rows, 1)
	require.Equal(t, []byte("p1"), store.rows[id1].payload)
}

package fanout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/queuecore/internal/fanout"
	"github.com/baechuer/queuecore/internal/lease"
	"github.com/baechuer/queuecore/internal/outbox"
	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/storage"
)

type fakePolicyStore struct {
	mu       sync.Mutex
	policies map[string]fanout.Policy
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{policies: make(map[string]fanout.Policy)}
}

var _ fanout.PolicyStore = (*fakePolicyStore)(nil)

func (s *fakePolicyStore) Get(ctx context.Context, topic, workKey string) (fanout.Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[topic+"|"+workKey]
	return p, ok, nil
}

func (s *fakePolicyStore) Upsert(ctx context.Context, policy fanout.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.Topic+"|"+policy.WorkKey] = policy
	return nil
}

type fakeCursorStore struct {
	mu      sync.Mutex
	cursors map[string]fanout.Cursor
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{cursors: make(map[string]fanout.Cursor)}
}

var _ fanout.CursorStore = (*fakeCursorStore)(nil)

func cursorKey(topic, workKey, shardKey string) string {
	return topic + "|" + workKey + "|" + shardKey
}

func (s *fakeCursorStore) Get(ctx context.Context, topic, workKey, shardKey string) (fanout.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[cursorKey(topic, workKey, shardKey)]
	return c, ok, nil
}

func (s *fakeCursorStore) MarkAttempt(ctx context.Context, topic, workKey, shardKey, status string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey(topic, workKey, shardKey)
	c := s.cursors[key]
	c.Topic, c.WorkKey, c.ShardKey = topic, workKey, shardKey
	c.LastAttemptAt, c.LastAttemptStatus = &now, status
	s.cursors[key] = c
	return nil
}

func (s *fakeCursorStore) MarkCompleted(ctx context.Context, topic, workKey, shardKey string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey(topic, workKey, shardKey)
	c := s.cursors[key]
	c.Topic, c.WorkKey, c.ShardKey = topic, workKey, shardKey
	c.LastCompletedAt = &now
	s.cursors[key] = c
	return nil
}

type fakeLeaseRow struct {
	owner        string
	until        time.Time
	fencingToken int64
}

type fakeLeaseBackend struct {
	mu   sync.Mutex
	rows map[string]*fakeLeaseRow
}

func newFakeLeaseBackend() *fakeLeaseBackend {
	return &fakeLeaseBackend{rows: make(map[string]*fakeLeaseRow)}
}

var _ lease.Backend = (*fakeLeaseBackend)(nil)

func (b *fakeLeaseBackend) Acquire(ctx context.Context, resource, owner string, now, until time.Time) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[resource]
	if !ok {
		r = &fakeLeaseRow{}
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

func (b *fakeLeaseBackend) Renew(ctx context.Context, resource, owner string, until time.Time) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[resource]
	if !ok || r.owner != owner {
		return 0, false, nil
	}
	r.until = until
	r.fencingToken++
	return r.fencingToken, true, nil
}

func (b *fakeLeaseBackend) Release(ctx context.Context, resource, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rows[resource]; ok && r.owner == owner {
		r.owner = ""
	}
	return nil
}

func (b *fakeLeaseBackend) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// fakeOutboxStore/fakeOutboxAdapter mirror outbox package's own test fakes,
// duplicated here since they aren't exported.
type outboxRow struct {
	topic, status string
	payload       []byte
}

type fakeOutboxStore struct {
	mu   sync.Mutex
	rows map[string]*outboxRow
}

func newFakeOutboxStore() *fakeOutboxStore {
	return &fakeOutboxStore{rows: make(map[string]*outboxRow)}
}

func (s *fakeOutboxStore) Insert(ctx context.Context, messageID, topic string, payload []byte, correlationID string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[messageID]; exists {
		return messageID, nil
	}
	s.rows[messageID] = &outboxRow{topic: topic, payload: payload, status: "ready"}
	return messageID, nil
}

func (s *fakeOutboxStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		r := s.rows[id]
		items = append(items, queue.Item{ID: id, Topic: r.topic, Payload: r.payload})
	}
	return items, nil
}

type fakeOutboxAdapter struct {
	store *fakeOutboxStore
}

var _ storage.Adapter = (*fakeOutboxAdapter)(nil)

func (a *fakeOutboxAdapter) Claim(ctx context.Context, spec storage.ClaimSpec) ([]string, error) {
	return nil, nil
}
func (a *fakeOutboxAdapter) Ack(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, now time.Time) (int64, error) {
	return 0, nil
}
func (a *fakeOutboxAdapter) Abandon(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, opts storage.AbandonOpts) (int64, error) {
	return 0, nil
}
func (a *fakeOutboxAdapter) Fail(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, reason string) (int64, error) {
	return 0, nil
}
func (a *fakeOutboxAdapter) Reap(ctx context.Context, spec storage.TableSpec, now time.Time) (int64, error) {
	return 0, nil
}

// TestCoordinator_FanoutCadence implements scenario S6 from spec.md §8:
// policy (topic="reports", workKey="default", every=30s, jitter=0),
// shards=[shard-a, shard-b]. First run dispatches both; immediately
// marking both completed and re-running within 30s dispatches 0. The
// "due again after 31s" step is not exercised here.
func TestCoordinator_FanoutCadence(t *testing.T) {
	policies := newFakePolicyStore()
	require.NoError(t, policies.Upsert(context.Background(), fanout.Policy{
		Topic: "reports", WorkKey: "default", EverySeconds: 30, JitterSeconds: 0,
	}))
	cursors := newFakeCursorStore()
	planner := fanout.StaticPlanner{Shards: []string{"shard-a", "shard-b"}}
	outboxStore := newFakeOutboxStore()
	ob := outbox.New(&fakeOutboxAdapter{store: outboxStore}, outboxStore)
	leaseMgr := lease.NewManager(newFakeLeaseBackend(), time.Minute, 0.5, zerolog.Nop())
	coord := fanout.NewCoordinator(leaseMgr, policies, cursors, planner, ob, nil, zerolog.Nop())

	n, err := coord.Run(context.Background(), "reports", "default", "")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, coord.MarkShardCompleted(context.Background(), "reports", "default", "shard-a"))
	require.NoError(t, coord.MarkShardCompleted(context.Background(), "reports", "default", "shard-b"))

	n, err = coord.Run(context.Background(), "reports", "default", "")
	require.NoError(t, err)
	require.Equal(t, 0, n, "shards completed moments ago are not due again within the 30s cadence")
}

func TestCoordinator_RefusedLeaseReturnsZero(t *testing.T) {
	policies := newFakePolicyStore()
	require.NoError(t, policies.Upsert(context.Background(), fanout.Policy{
		Topic: "reports", WorkKey: "default", EverySeconds: 30,
	}))
	cursors := newFakeCursorStore()
	planner := fanout.StaticPlanner{Shards: []string{"shard-a"}}
	outboxStore := newFakeOutboxStore()
	ob := outbox.New(&fakeOutboxAdapter{store: outboxStore}, outboxStore)
	backend := newFakeLeaseBackend()
	leaseMgr := lease.NewManager(backend, time.Minute, 0.5, zerolog.Nop())
	coord := fanout.NewCoordinator(leaseMgr, policies, cursors, planner, ob, nil, zerolog.Nop())

	otherLease, ok, err := leaseMgr.Acquire(context.Background(), "fanout:reports:default")
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = otherLease.Release(context.Background()) }()

	n, err := coord.Run(context.Background(), "reports", "default", "")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCoordinator_UnknownPolicyReturnsNotFound(t *testing.T) {
	policies := newFakePolicyStore()
	cursors := newFakeCursorStore()
	planner := fanout.StaticPlanner{}
	outboxStore := newFakeOutboxStore()
	ob := outbox.New(&fakeOutboxAdapter{store: outboxStore}, outboxStore)
	leaseMgr := lease.NewManager(newFakeLeaseBackend(), time.Minute, 0.5, zerolog.Nop())
	coord := fanout.NewCoordinator(leaseMgr, policies, cursors, planner, ob, nil, zerolog.Nop())

	_, err := coord.Run(context.Background(), "unknown", "default", "")
	require.Error(t, err)
}

func TestDeterministicMessageID_SameBucketDedupes(t *testing.T) {
	policies := newFakePolicyStore()
	require.NoError(t, policies.Upsert(context.Background(), fanout.Policy{
		Topic: "reports", WorkKey: "default", EverySeconds: 30,
	}))
	cursors := newFakeCursorStore()
	planner := fanout.StaticPlanner{Shards: []string{"shard-a"}}
	outboxStore := newFakeOutboxStore()
	ob := outbox.New(&fakeOutboxAdapter{store: outboxStore}, outboxStore)
	leaseMgr := lease.NewManager(newFakeLeaseBackend(), time.Minute, 0.5, zerolog.Nop())
	coord := fanout.NewCoordinator(leaseMgr, policies, cursors, planner, ob, nil, zerolog.Nop())

	// Simulate a retried dispatch within the same cadence bucket: force
	// the shard due again immediately by never marking it completed, and
	// run twice in a row. Both attempts must land on the same outbox row.
	_, err := coord.Run(context.Background(), "reports", "default", "")
	require.NoError(t, err)
	require.Len(t, outboxStore.rows, 1)

	otherLeaseMgr := lease.NewManager(newFakeLeaseBackend(), time.Minute, 0.5, zerolog.Nop())
	coord2 := fanout.NewCoordinator(otherLeaseMgr, policies, cursors, planner, ob, nil, zerolog.Nop())
	_, err = coord2.Run(context.Background(), "reports", "default", "")
	require.NoError(t, err)
	require.Len(t, outboxStore.rows, 1, "retried dispatch in the same cadence bucket must not double-enqueue")
}

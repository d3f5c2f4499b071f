// Package fanout implements the fan-out coordinator (component G, spec.md
// §4.G): a lease-guarded loop that dispatches one outbox message per due
// shard of a (topic, workKey) policy, with per-shard independent progress
// tracked by a Cursor row. Grounded on join-service's repository pattern of
// reading state, deciding in Go, and writing the result back inside one
// lease-held section, generalized from CancelJoin's lock-then-mutate shape.
package fanout

import (
	"context"
	"hash/fnv"
	"time"
)

// Policy configures one (topic, workKey) fan-out cadence.
type Policy struct {
	Topic         string
	WorkKey       string
	EverySeconds  int
	JitterSeconds int
}

// Cursor tracks one shard's progress within a Policy.
type Cursor struct {
	Topic             string
	WorkKey           string
	ShardKey          string
	LastCompletedAt   *time.Time
	LastAttemptAt     *time.Time
	LastAttemptStatus string
	NextAttemptAt     *time.Time
}

// Attempt-status values a Cursor can carry (spec.md §4.G steps 3-5).
const (
	AttemptPending    = "Pending"
	AttemptDispatched = "Dispatched"
	AttemptFailed     = "Failed"
)

// PolicyStore is the backend contract for fan-out policies.
type PolicyStore interface {
	Get(ctx context.Context, topic, workKey string) (Policy, bool, error)
	Upsert(ctx context.Context, policy Policy) error
}

// CursorStore is the backend contract for per-shard cursors.
type CursorStore interface {
	Get(ctx context.Context, topic, workKey, shardKey string) (Cursor, bool, error)
	MarkAttempt(ctx context.Context, topic, workKey, shardKey, status string, now time.Time) error
	MarkCompleted(ctx context.Context, topic, workKey, shardKey string, now time.Time) error
}

// Planner enumerates the shard keys a (topic, workKey) policy currently
// fans out over. Deliberately pluggable and out of core scope (spec.md
// §4.G): "the coordinator never touches shards not listed by the Planner,
// so adding a shard is purely a Planner concern."
type Planner interface {
	Candidates(ctx context.Context, topic, workKey string) ([]string, error)
}

// StaticPlanner is a Planner over a fixed shard list, useful for tests and
// for policies whose shard set rarely changes.
type StaticPlanner struct {
	Shards []string
}

func (p StaticPlanner) Candidates(ctx context.Context, topic, workKey string) ([]string, error) {
	return p.Shards, nil
}

// shardJitter derives a deterministic uniform(0, jitterSeconds) offset
// keyed by shardKey via FNV-1a, so the same shard always gets the same
// jitter within a policy (spread load across shards without making the
// schedule non-reproducible across runs).
func shardJitter(shardKey string, jitterSeconds int) time.Duration {
	if jitterSeconds <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(shardKey))
	offset := int(h.Sum32() % uint32(jitterSeconds))
	return time.Duration(offset) * time.Second
}

// isDue reports whether cursor needs a new dispatch under policy as of now
// (spec.md §4.G step 2).
func isDue(cursor Cursor, policy Policy, now time.Time) bool {
	if cursor.LastCompletedAt == nil {
		return true
	}
	due := cursor.LastCompletedAt.Add(time.Duration(policy.EverySeconds) * time.Second)
	due = due.Add(shardJitter(cursor.ShardKey, policy.JitterSeconds))
	return !now.Before(due)
}

// Package joinbarrier implements the outbox join (component H, spec.md
// §4.H): a fan-in barrier across N outbox messages generated by one
// logical action, tracked with the same transactional counter-bookkeeping
// idiom join-service's CancelJoin uses for active_count/waitlist_count —
// generalized here to completed_steps/failed_steps against outbox_joins.
package joinbarrier

import (
	"context"
	"fmt"

	"github.com/baechuer/queuecore/internal/domain"
)

// Status is the join's aggregate state, derived from
// (completed_steps, failed_steps, expected_steps).
type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusSucceeded  Status = "Succeeded"
	StatusFailed     Status = "Failed"
)

// Join is one fan-in barrier's current state.
type Join struct {
	JoinID         string
	ExpectedSteps  int
	CompletedSteps int
	FailedSteps    int
	Status         Status
	Metadata       []byte
}

// Backend is the storage contract Barrier needs. OnMemberCompleted and
// OnMemberFailed must be idempotent per (joinID, outboxMessageID): a
// member already marked completed or failed is a no-op on a repeat call,
// and once a join's Status is terminal (Succeeded/Failed) every further
// event on it is a no-op (spec.md §4.H state machine: "Succeeded / Failed,
// any event, unchanged").
type Backend interface {
	CreateJoin(ctx context.Context, expectedSteps int, metadata []byte) (joinID string, err error)
	Attach(ctx context.Context, joinID, outboxMessageID string) error
	OnMemberCompleted(ctx context.Context, joinID, outboxMessageID string) (Join, error)
	OnMemberFailed(ctx context.Context, joinID, outboxMessageID string) (Join, error)
	Get(ctx context.Context, joinID string) (Join, bool, error)

	// FindJoinForMember looks up which join (if any) outboxMessageID is
	// attached to, letting a queue.Observer resolve the join id from a
	// bare item id at ack/fail time without the Dispatcher needing to know
	// about joins at all.
	FindJoinForMember(ctx context.Context, outboxMessageID string) (joinID string, ok bool, err error)
}

// Barrier is the host-facing API for creating and driving an outbox join.
type Barrier struct {
	backend Backend
}

func New(backend Backend) *Barrier {
	return &Barrier{backend: backend}
}

// CreateJoin opens a new barrier expecting expectedSteps member completions
// or failures before it resolves.
func (b *Barrier) CreateJoin(ctx context.Context, expectedSteps int, metadata []byte) (string, error) {
	if expectedSteps <= 0 {
		return "", fmt.Errorf("%w: expected_steps must be positive", domain.ErrConstraintViolation)
	}
	joinID, err := b.backend.CreateJoin(ctx, expectedSteps, metadata)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return joinID, nil
}

// Attach links an already-enqueued outbox message to joinID, satisfying
// the fanout.Joiner interface so Coordinator.Run can call it directly.
func (b *Barrier) Attach(ctx context.Context, joinID, outboxMessageID string) error {
	if err := b.backend.Attach(ctx, joinID, outboxMessageID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return nil
}

// OnAck is the queue.Dispatcher post-ack hook (via an Observer, see
// observer.go): it transactionally increments completed_steps and marks
// the member's completed_at, resolving the join to Succeeded once every
// member has reported in with zero failures.
func (b *Barrier) OnAck(ctx context.Context, joinID, outboxMessageID string) (Join, error) {
	join, err := b.backend.OnMemberCompleted(ctx, joinID, outboxMessageID)
	if err != nil {
		return Join{}, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return join, nil
}

// OnFail is the queue.Dispatcher post-fail hook: transactionally
// increments failed_steps and marks the member's failed_at, resolving the
// join to Failed once every member has reported in.
func (b *Barrier) OnFail(ctx context.Context, joinID, outboxMessageID string) (Join, error) {
	join, err := b.backend.OnMemberFailed(ctx, joinID, outboxMessageID)
	if err != nil {
		return Join{}, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return join, nil
}

// Get returns the current state of a join.
func (b *Barrier) Get(ctx context.Context, joinID string) (Join, error) {
	join, ok, err := b.backend.Get(ctx, joinID)
	if err != nil {
		return Join{}, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !ok {
		return Join{}, domain.ErrNotFound
	}
	return join, nil
}

// DeriveStatus implements spec.md §4.H's status formula: InProgress until
// every expected step has reported, then Succeeded if none failed else
// Failed. Exported so backends can share one authoritative rule instead of
// re-deriving it per SQL dialect.
func DeriveStatus(expected, completed, failed int) Status {
	if completed+failed < expected {
		return StatusInProgress
	}
	if failed == 0 {
		return StatusSucceeded
	}
	return StatusFailed
}

// Package scheduler implements the scheduler (component F, spec.md §4.F):
// one-shot timers and recurring cron jobs, both materialized into rows the
// work-queue engine can claim, generalized from join-service's repository
// insert-in-transaction idiom and wired to robfig/cron/v3 for cron
// expression parsing.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/storage"
)

// TimerStore is the backend contract for one-shot timers.
type TimerStore interface {
	Insert(ctx context.Context, id, topic string, payload []byte, dueAt time.Time, now time.Time) error
	Cancel(ctx context.Context, id string) (bool, error)

	// EarliestDue reports the smallest due_at among still-Ready timers, or
	// nil if none are pending. Used alongside JobStore's next_run_at to
	// answer spec.md §4.F's get_next_event_time().
	EarliestDue(ctx context.Context) (*time.Time, error)

	queue.PayloadLoader
}

// Timers is the host-facing API for one-shot scheduled work.
type Timers struct {
	store  TimerStore
	Engine *queue.Engine
}

func NewTimers(adapter storage.Adapter, store TimerStore) *Timers {
	spec := storage.IntTableSpec("timers", "due_at")
	return &Timers{store: store, Engine: queue.New(adapter, spec, store)}
}

// ScheduleTimer records a one-shot job due at dueAt. dueAt in the past is
// valid and materializes as immediately claimable, the same way a claim
// query treats any due_at <= now.
func (t *Timers) ScheduleTimer(ctx context.Context, topic string, payload []byte, dueAt time.Time) (id string, err error) {
	id = uuid.NewString()
	if err := t.store.Insert(ctx, id, topic, payload, dueAt, time.Now()); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return id, nil
}

// CancelTimer removes a not-yet-claimed timer. Cancelling a timer that has
// already been claimed or fired returns domain.ErrNotFound: spec.md §4.F
// treats "timer already in flight" as too late to cancel rather than as a
// race the caller should retry.
func (t *Timers) CancelTimer(ctx context.Context, id string) error {
	ok, err := t.store.Cancel(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

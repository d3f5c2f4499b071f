// Package outbox implements the outbox (component E, spec.md §4.E): durable
// enqueueing of messages a process wants delivered at least once, backed by
// the work-queue engine and dispatched through the same claim/handle/ack
// loop every other table uses. Grounded on
// join-service/internal/infrastructure/postgres/outbox_worker.go's
// processOutboxBatch/StartOutboxWorker, generalized away from a single
// RabbitMQ sink to any registered domain.Handler.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/storage"
)

// Store is the backend contract Outbox needs beyond the generic
// storage.Adapter: inserting a new message and loading claimed rows' topic
// and payload, since those columns are specific to the outbox table shape.
//
// Insert returns the row's claim id (the same id Claim/Ack/Abandon/Fail
// operate on), not messageID: messageID is purely the insert-time dedupe
// fence (spec.md §4.G derives it deterministically per shard dispatch), and
// a second Insert racing on the same messageID returns the first row's id
// rather than erroring, so callers that need to correlate a dispatch with
// its eventual ack (e.g. joinbarrier.Barrier.Attach) always get a value
// that matches what the dispatcher will later report.
type Store interface {
	Insert(ctx context.Context, messageID, topic string, payload []byte, correlationID string, now time.Time) (id string, err error)
	queue.PayloadLoader
}

// Outbox is the host-facing enqueue API plus the Engine a Dispatcher runs
// against.
type Outbox struct {
	store  Store
	Engine *queue.Engine
}

func New(adapter storage.Adapter, store Store) *Outbox {
	spec := storage.IntTableSpec("outbox", "created_at")
	return &Outbox{
		store:  store,
		Engine: queue.New(adapter, spec, store),
	}
}

// Enqueue durably records a message for later at-least-once delivery,
// minting a fresh random message id, and returns the row's claim id.
func (o *Outbox) Enqueue(ctx context.Context, topic string, payload []byte, correlationID string) (id string, err error) {
	return o.EnqueueWithID(ctx, uuid.NewString(), topic, payload, correlationID)
}

// EnqueueWithID is Enqueue with a caller-supplied messageID. A second call
// with the same messageID is a no-op that returns the original row's claim
// id, the same dedupe-by-insert-conflict contract ProcessOnce relies on
// elsewhere — the fan-out coordinator (component G) uses this to derive a
// deterministic message id per (topic, workKey, shardKey, bucketTime) so a
// retried dispatch never double-enqueues.
func (o *Outbox) EnqueueWithID(ctx context.Context, messageID, topic string, payload []byte, correlationID string) (id string, err error) {
	id, err = o.store.Insert(ctx, messageID, topic, payload, correlationID, time.Now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return id, nil
}

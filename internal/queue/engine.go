// Package queue implements the work-queue engine (component B, spec.md
// §4.B): a thin typed wrapper over storage.Adapter plus the poll/claim/
// handle/ack dispatch loop, generalized from
// join-service/internal/infrastructure/postgres/outbox_worker.go's
// StartOutboxWorker/processOutboxBatch ticker-driven worker.
package queue

import (
	"context"
	"time"

	"github.com/baechuer/queuecore/internal/metrics"
	"github.com/baechuer/queuecore/internal/storage"
)

// Item is the payload-bearing row a Dispatcher hands to a Handler: the
// storage.Adapter layer only knows ids, so a PayloadLoader fills in topic
// and payload per table.
type Item struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// PayloadLoader fetches topic/payload/attempts for a batch of claimed ids.
// Each table-specific package (outbox, inbox, scheduler) supplies its own
// implementation, since the column layout around WorkItem differs.
type PayloadLoader interface {
	Load(ctx context.Context, ids []string) ([]Item, error)
}

// Engine is the capability set a Dispatcher needs against one table: claim,
// ack/abandon/fail, and reap, all scoped to spec via storage.TableSpec.
type Engine struct {
	Adapter storage.Adapter
	Spec    storage.TableSpec
	Loader  PayloadLoader

	// Now is substitutable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(adapter storage.Adapter, spec storage.TableSpec, loader PayloadLoader) *Engine {
	return &Engine{Adapter: adapter, Spec: spec, Loader: loader, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Claim reserves up to batchSize ready rows under ownerToken and returns
// their full Item payloads, loaded in claim order.
func (e *Engine) Claim(ctx context.Context, ownerToken string, leaseSeconds, batchSize int) ([]Item, error) {
	ids, err := e.Adapter.Claim(ctx, storage.ClaimSpec{
		TableSpec:    e.Spec,
		OwnerToken:   ownerToken,
		LeaseSeconds: leaseSeconds,
		BatchSize:    batchSize,
		Now:          e.now(),
	})
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	metrics.RecordClaimed(e.Spec.Table, len(ids))
	return e.Loader.Load(ctx, ids)
}

func (e *Engine) Ack(ctx context.Context, ownerToken string, ids []string) (int64, error) {
	n, err := e.Adapter.Ack(ctx, e.Spec, ownerToken, ids, e.now())
	if err == nil {
		metrics.RecordAcked(e.Spec.Table, n)
	}
	return n, err
}

func (e *Engine) Abandon(ctx context.Context, ownerToken string, ids []string, opts storage.AbandonOpts) (int64, error) {
	n, err := e.Adapter.Abandon(ctx, e.Spec, ownerToken, ids, opts)
	if err == nil {
		metrics.RecordAbandoned(e.Spec.Table, n)
	}
	return n, err
}

func (e *Engine) Fail(ctx context.Context, ownerToken string, ids []string, reason string) (int64, error) {
	n, err := e.Adapter.Fail(ctx, e.Spec, ownerToken, ids, reason)
	if err == nil {
		metrics.RecordFailed(e.Spec.Table, n)
	}
	return n, err
}

func (e *Engine) Reap(ctx context.Context) (int64, error) {
	n, err := e.Adapter.Reap(ctx, e.Spec, e.now())
	if err == nil {
		metrics.RecordReaped(e.Spec.Table, n)
	}
	return n, err
}

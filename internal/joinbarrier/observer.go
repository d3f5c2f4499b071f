package joinbarrier

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/baechuer/queuecore/internal/queue"
)

// DispatcherObserver adapts a Barrier into queue.Observer, so an outbox
// Dispatcher can drive join bookkeeping without importing this package's
// domain vocabulary: an item id with no attached join is a plain no-op.
type DispatcherObserver struct {
	barrier *Barrier
	backend Backend
	log     zerolog.Logger
}

func NewDispatcherObserver(barrier *Barrier, backend Backend, log zerolog.Logger) *DispatcherObserver {
	return &DispatcherObserver{barrier: barrier, backend: backend, log: log}
}

var _ queue.Observer = (*DispatcherObserver)(nil)

func (o *DispatcherObserver) OnAck(ctx context.Context, id string) {
	joinID, ok, err := o.backend.FindJoinForMember(ctx, id)
	if err != nil {
		o.log.Warn().Err(err).Str("id", id).Msg("join lookup on ack failed")
		return
	}
	if !ok {
		return
	}
	if _, err := o.barrier.OnAck(ctx, joinID, id); err != nil {
		o.log.Warn().Err(err).Str("id", id).Str("join_id", joinID).Msg("join OnAck failed")
	}
}

func (o *DispatcherObserver) OnFail(ctx context.Context, id string) {
	joinID, ok, err := o.backend.FindJoinForMember(ctx, id)
	if err != nil {
		o.log.Warn().Err(err).Str("id", id).Msg("join lookup on fail failed")
		return
	}
	if !ok {
		return
	}
	if _, err := o.barrier.OnFail(ctx, joinID, id); err != nil {
		o.log.Warn().Err(err).Str("id", id).Str("join_id", joinID).Msg("join OnFail failed")
	}
}

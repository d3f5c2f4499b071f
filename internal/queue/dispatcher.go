package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/metrics"
	"github.com/baechuer/queuecore/internal/storage"
)

// DispatcherConfig tunes one Dispatcher's claim/poll/reap cadence.
type DispatcherConfig struct {
	OwnerPrefix   string // e.g. "worker" -> owner tokens look like "worker-<uuid>"
	BatchSize     int
	LeaseSeconds  int
	PollInterval  time.Duration
	ReapInterval  time.Duration
	MaxAttempts   int
	Backoff       Backoff
}

// Observer receives terminal-transition notifications after a successful
// Ack or Fail, generalizing the teacher's idiom of doing counter
// bookkeeping in the same transaction as a status write into a post-commit
// hook any table-specific package can attach (joinbarrier's Backend is the
// one consumer today, wired via its own Dispatcher-facing adapter).
type Observer interface {
	OnAck(ctx context.Context, id string)
	OnFail(ctx context.Context, id string)
}

// Dispatcher is the poll/claim/handle/ack loop from spec.md §4.B: claim a
// batch, run the topic's Handler on each item, and resolve the outcome by
// acking, abandoning with backoff, or failing permanently. It also runs a
// Reap ticker on the same table so abandoned leases are recovered even with
// no claim traffic, the way outbox_worker.go's single goroutine owns both
// publish and retry bookkeeping for its table.
type Dispatcher struct {
	Engine   *Engine
	Handlers *domain.Registry
	Config   DispatcherConfig
	Log      zerolog.Logger

	// Observer is optional; nil means no post-ack/post-fail notification.
	Observer Observer

	ownerToken string
}

func NewDispatcher(engine *Engine, handlers *domain.Registry, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	prefix := cfg.OwnerPrefix
	if prefix == "" {
		prefix = "worker"
	}
	return &Dispatcher{
		Engine:     engine,
		Handlers:   handlers,
		Config:     cfg,
		Log:        log,
		ownerToken: prefix + "-" + uuid.NewString(),
	}
}

// Run blocks until ctx is cancelled, claiming one batch immediately, then
// polling for claimable work on PollInterval and reaping expired leases on
// ReapInterval.
func (d *Dispatcher) Run(ctx context.Context) {
	pollTicker := time.NewTicker(d.Config.PollInterval)
	defer pollTicker.Stop()
	reapTicker := time.NewTicker(d.Config.ReapInterval)
	defer reapTicker.Stop()

	var lastErr string
	var lastAt time.Time

	if err := d.runOnce(ctx); err != nil {
		d.Log.Warn().Err(err).Msg("dispatch batch failed")
		lastErr = err.Error()
		lastAt = time.Now()
	}

	for {
		select {
		case <-ctx.Done():
			d.Log.Info().Msg("dispatcher stopped")
			return
		case <-reapTicker.C:
			if n, err := d.Engine.Reap(ctx); err != nil {
				d.Log.Warn().Err(err).Msg("reap failed")
			} else if n > 0 {
				d.Log.Info().Int64("reaped", n).Msg("reaped expired leases")
			}
		case <-pollTicker.C:
			if err := d.runOnce(ctx); err != nil {
				if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
					d.Log.Warn().Err(err).Msg("dispatch batch failed")
					lastErr = err.Error()
					lastAt = time.Now()
				}
			} else {
				lastErr = ""
			}
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) error {
	items, err := d.Engine.Claim(ctx, d.ownerToken, d.Config.LeaseSeconds, d.Config.BatchSize)
	if err != nil {
		return err
	}
	for _, item := range items {
		d.handle(ctx, item)
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, item Item) {
	handler, ok := d.Handlers.Lookup(item.Topic)
	if !ok {
		reason := "no handler registered for topic " + item.Topic
		d.Log.Error().Str("topic", item.Topic).Str("id", item.ID).Msg(reason)
		if _, err := d.Engine.Fail(ctx, d.ownerToken, []string{item.ID}, reason); err != nil {
			d.Log.Error().Err(err).Msg("fail after missing handler failed")
		}
		return
	}

	start := d.Engine.now()
	outcome := handler.Handle(ctx, item.Topic, item.Payload)
	metrics.ObserveHandleDuration(item.Topic, d.Engine.now().Sub(start).Seconds())
	switch outcome.Kind {
	case domain.HandlerOK:
		if _, err := d.Engine.Ack(ctx, d.ownerToken, []string{item.ID}); err != nil {
			d.Log.Error().Err(err).Str("id", item.ID).Msg("ack failed")
			return
		}
		if d.Observer != nil {
			d.Observer.OnAck(ctx, item.ID)
		}
	case domain.HandlerPermanent:
		if _, err := d.Engine.Fail(ctx, d.ownerToken, []string{item.ID}, outcome.Msg); err != nil {
			d.Log.Error().Err(err).Str("id", item.ID).Msg("fail failed")
			return
		}
		if d.Observer != nil {
			d.Observer.OnFail(ctx, item.ID)
		}
	case domain.HandlerTransient:
		d.abandonTransient(ctx, item, outcome.Msg)
	}
}

func (d *Dispatcher) abandonTransient(ctx context.Context, item Item, reason string) {
	maxAttempts := d.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 12
	}
	if item.Attempts+1 >= maxAttempts {
		if _, err := d.Engine.Fail(ctx, d.ownerToken, []string{item.ID}, "max attempts exceeded: "+reason); err != nil {
			d.Log.Error().Err(err).Str("id", item.ID).Msg("fail after max attempts failed")
			return
		}
		if d.Observer != nil {
			d.Observer.OnFail(ctx, item.ID)
		}
		return
	}

	due := d.Engine.now().Add(d.Config.Backoff.Next(item.Attempts))
	if _, err := d.Engine.Abandon(ctx, d.ownerToken, []string{item.ID}, storage.AbandonOpts{LastError: &reason, DueAt: &due}); err != nil {
		d.Log.Error().Err(err).Str("id", item.ID).Msg("abandon failed")
	}
}

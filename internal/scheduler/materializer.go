package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/queuecore/internal/lease"
	"github.com/baechuer/queuecore/internal/metrics"
	"github.com/baechuer/queuecore/internal/queue"
)

// JobRunStore inserts materialized job_runs with the (job_name,
// scheduled_at) unique index as the duplicate-suppression fence: two
// Materializer instances racing on the same tick insert the same row at
// most once. It also satisfies queue.PayloadLoader, since job_runs rows are
// claimed and dispatched through the same engine outbox/timers use.
type JobRunStore interface {
	InsertRun(ctx context.Context, jobName, topic string, payload []byte, scheduledAt, now time.Time) (inserted bool, err error)
	queue.PayloadLoader
}

// Materializer periodically expands every enabled Job's cron schedule into
// due job_runs rows, one lookahead window at a time, while holding the
// "scheduler-materializer" lease so only one process in the fleet runs it
// at once (spec.md §4.F). Grounded on the lease-guarded singleton loop
// idiom used across the lease/fanout packages; this is the consumer that
// gives the Manager's background renewer a reason to exist.
type Materializer struct {
	jobs     JobStore
	runs     JobRunStore
	leaseMgr *lease.Manager
	log      zerolog.Logger

	lookahead time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewMaterializer(jobs JobStore, runs JobRunStore, leaseMgr *lease.Manager, lookahead, interval time.Duration, log zerolog.Logger) *Materializer {
	return &Materializer{jobs: jobs, runs: runs, leaseMgr: leaseMgr, lookahead: lookahead, interval: interval, log: log, now: time.Now}
}

// Run blocks until ctx is cancelled, attempting to acquire the
// materializer lease once immediately and then on each tick, and running
// one materialization pass whenever it succeeds.
func (m *Materializer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Materializer) tick(ctx context.Context) {
	l, acquired, err := m.leaseMgr.Acquire(ctx, "scheduler-materializer")
	if err != nil {
		m.log.Warn().Err(err).Msg("materializer lease acquire failed")
		return
	}
	if !acquired {
		return
	}
	defer func() { _ = l.Release(ctx) }()

	now := m.now()
	jobs, err := m.jobs.DueForMaterialization(ctx, now, now.Add(m.lookahead))
	if err != nil {
		m.log.Warn().Err(err).Msg("materializer list jobs failed")
		return
	}

	for _, job := range jobs {
		if err := l.ThrowIfLost(); err != nil {
			m.log.Warn().Err(err).Msg("materializer lease lost mid-pass, stopping")
			return
		}
		m.materializeJob(ctx, job, now)
	}
}

func (m *Materializer) materializeJob(ctx context.Context, job Job, now time.Time) {
	if !job.Enabled {
		return
	}
	sched, err := cronParser.Parse(job.CronExpression)
	if err != nil {
		m.log.Error().Err(err).Str("job", job.Name).Msg("job has invalid cron expression, skipping")
		return
	}

	window := now.Add(m.lookahead)
	var last time.Time
	if job.LastRunAt != nil {
		last = *job.LastRunAt
	} else {
		last = now
	}

	next := sched.Next(last)
	for !next.After(window) {
		inserted, err := m.runs.InsertRun(ctx, job.Name, job.Topic, job.Payload, next, now)
		if err != nil {
			m.log.Error().Err(err).Str("job", job.Name).Time("scheduled_at", next).Msg("insert job run failed")
			return
		}
		if inserted {
			m.log.Debug().Str("job", job.Name).Time("scheduled_at", next).Msg("materialized job run")
			metrics.RecordJobRunMaterialized(job.Name)
		}
		if err := m.jobs.MarkRun(ctx, job.Name, next, sched.Next(next)); err != nil {
			m.log.Warn().Err(err).Str("job", job.Name).Msg("mark run failed")
		}
		next = sched.Next(next)
	}
}

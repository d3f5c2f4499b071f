package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/baechuer/queuecore/internal/domain"
)

// Job is a recurring definition the Materializer expands into due job_runs.
type Job struct {
	Name           string
	Topic          string
	CronExpression string
	Payload        []byte
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
}

// JobStore is the backend contract for job definitions.
type JobStore interface {
	Upsert(ctx context.Context, job Job) error
	Delete(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (Job, bool, error)
	DueForMaterialization(ctx context.Context, now, until time.Time) ([]Job, error)
	MarkRun(ctx context.Context, name string, lastRunAt, nextRunAt time.Time) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Jobs is the host-facing cron job registry. Cron parsing uses
// robfig/cron/v3's standard 5-field schedule.
type Jobs struct {
	store  JobStore
	timers TimerStore
}

// NewJobs builds a Jobs registry. timers is optional (nil is fine): it only
// feeds GetNextEventTime's timer-side half of spec.md §4.F's
// get_next_event_time(), and every other Jobs method ignores it.
func NewJobs(store JobStore, timers TimerStore) *Jobs {
	return &Jobs{store: store, timers: timers}
}

// CreateOrUpdateJob validates cronExpr, computes the job's next run from
// now, and upserts the definition. Re-registering an existing name
// replaces its schedule/topic/payload, matching the builder-replace
// semantics domain.Registry.Register uses for handlers.
func (j *Jobs) CreateOrUpdateJob(ctx context.Context, name, topic, cronExpr string, payload []byte) error {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", domain.ErrConstraintViolation, cronExpr, err)
	}
	now := time.Now()
	next := sched.Next(now)

	job := Job{
		Name: name, Topic: topic, CronExpression: cronExpr, Payload: payload,
		Enabled: true, NextRunAt: &next,
	}
	if err := j.store.Upsert(ctx, job); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return nil
}

func (j *Jobs) DeleteJob(ctx context.Context, name string) error {
	ok, err := j.store.Delete(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// TriggerJob looks up job's definition for one immediate run outside its
// cron schedule, the manual-override path spec.md §4.F describes for
// operator-triggered runs. It inserts no job_run itself: the caller
// (queuectl's trigger command or the host admin endpoint) inserts the run
// with scheduled_at set to now.
func (j *Jobs) TriggerJob(ctx context.Context, name string) (Job, error) {
	job, ok, err := j.store.Get(ctx, name)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !ok {
		return Job{}, domain.ErrNotFound
	}
	return job, nil
}

// GetNextEventTime reports the earliest of the minimum due_at among Ready
// timers and the minimum next_run_at among enabled jobs (spec.md §4.F), the
// signal a dispatcher uses to sleep precisely instead of polling blind.
// Only jobs whose next_run_at falls within 24 hours of now are considered;
// a job due later than that, or with no next_run_at, does not contribute.
func (j *Jobs) GetNextEventTime(ctx context.Context, now time.Time) (*time.Time, error) {
	jobs, err := j.store.DueForMaterialization(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	var earliest *time.Time
	for _, job := range jobs {
		if job.NextRunAt == nil {
			continue
		}
		if earliest == nil || job.NextRunAt.Before(*earliest) {
			earliest = job.NextRunAt
		}
	}

	if j.timers != nil {
		timerDue, err := j.timers.EarliestDue(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
		}
		if timerDue != nil && (earliest == nil || timerDue.Before(*earliest)) {
			earliest = timerDue
		}
	}

	return earliest, nil
}

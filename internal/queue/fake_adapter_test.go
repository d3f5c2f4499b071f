package queue_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/storage"
)

// fakeRow mirrors the columns every table-specific package layers on top of
// domain.WorkItem: id, topic, payload, status, owner, lease, due, attempts.
type fakeRow struct {
	id          string
	topic       string
	payload     []byte
	status      string // "ready", "in_progress", "done", "dead"
	ownerToken  *string
	lockedUntil *time.Time
	dueAt       *time.Time
	attempts    int
	lastError   *string
}

// fakeAdapter is an in-memory storage.Adapter used to unit-test queue.Engine
// and queue.Dispatcher without a real database, the same role sqlmock plays
// for the teacher's repository tests, specialized to this package's needs
// since the adapter's table shape is richer than raw SQL expectations.
type fakeAdapter struct {
	mu   sync.Mutex
	rows map[string]*fakeRow
}

func newFakeAdapter(rows ...*fakeRow) *fakeAdapter {
	a := &fakeAdapter{rows: make(map[string]*fakeRow)}
	for _, r := range rows {
		a.rows[r.id] = r
	}
	return a
}

var _ storage.Adapter = (*fakeAdapter)(nil)

func (a *fakeAdapter) Claim(ctx context.Context, spec storage.ClaimSpec) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var candidates []*fakeRow
	for _, r := range a.rows {
		if r.status != "ready" {
			continue
		}
		if r.dueAt != nil && r.dueAt.After(spec.Now) {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	var ids []string
	for _, r := range candidates {
		if len(ids) >= spec.BatchSize {
			break
		}
		owner := spec.OwnerToken
		until := spec.Now.Add(time.Duration(spec.LeaseSeconds) * time.Second)
		r.status = "in_progress"
		r.ownerToken = &owner
		r.lockedUntil = &until
		ids = append(ids, r.id)
	}
	return ids, nil
}

func (a *fakeAdapter) Ack(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, now time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, id := range ids {
		r, ok := a.rows[id]
		if !ok || r.status != "in_progress" || r.ownerToken == nil || *r.ownerToken != ownerToken {
			continue
		}
		r.status = "done"
		r.ownerToken = nil
		r.lockedUntil = nil
		n++
	}
	return n, nil
}

func (a *fakeAdapter) Abandon(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, opts storage.AbandonOpts) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, id := range ids {
		r, ok := a.rows[id]
		if !ok || r.status != "in_progress" || r.ownerToken == nil || *r.ownerToken != ownerToken {
			continue
		}
		r.status = "ready"
		r.ownerToken = nil
		r.lockedUntil = nil
		r.attempts++
		if opts.LastError != nil {
			r.lastError = opts.LastError
		}
		if opts.DueAt != nil {
			r.dueAt = opts.DueAt
		}
		n++
	}
	return n, nil
}

func (a *fakeAdapter) Fail(ctx context.Context, spec storage.TableSpec, ownerToken string, ids []string, reason string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, id := range ids {
		r, ok := a.rows[id]
		if !ok || r.status != "in_progress" || r.ownerToken == nil || *r.ownerToken != ownerToken {
			continue
		}
		r.status = "dead"
		r.ownerToken = nil
		r.lockedUntil = nil
		r.lastError = &reason
		n++
	}
	return n, nil
}

func (a *fakeAdapter) Reap(ctx context.Context, spec storage.TableSpec, now time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, r := range a.rows {
		if r.status != "in_progress" || r.lockedUntil == nil || r.lockedUntil.After(now) {
			continue
		}
		r.status = "ready"
		r.ownerToken = nil
		r.lockedUntil = nil
		n++
	}
	return n, nil
}

// fakeLoader loads Item payloads straight out of fakeAdapter's rows.
type fakeLoader struct {
	a *fakeAdapter
}

var _ queue.PayloadLoader = (*fakeLoader)(nil)

func (l *fakeLoader) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	l.a.mu.Lock()
	defer l.a.mu.Unlock()
	items := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		r := l.a.rows[id]
		items = append(items, queue.Item{ID: r.id, Topic: r.topic, Payload: r.payload, Attempts: r.attempts})
	}
	return items, nil
}

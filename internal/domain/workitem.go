// Package domain holds the vocabulary shared by every queue primitive:
// work item status, the owner/lease bookkeeping columns, and the error
// taxonomy callers switch on.
package domain

import "time"

// Status is the numeric WorkItem status used by outbox, timers, and
// job-runs. Inbox uses the string enum in InboxStatus instead (see
// spec.md §6 "Status encodings"); both are part of the external contract
// because migrations read the raw column value.
type Status int

const (
	StatusReady Status = iota
	StatusInProgress
	StatusDone
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// InboxStatus is the string enum inbox rows use.
type InboxStatus string

const (
	InboxSeen       InboxStatus = "Seen"
	InboxProcessing InboxStatus = "Processing"
	InboxDone       InboxStatus = "Done"
	InboxDead       InboxStatus = "Dead"
)

// WorkItem is the abstract row shape shared by outbox, inbox, timers and
// job-runs (spec.md §3). Domain-specific tables embed this.
type WorkItem struct {
	ID          string
	OwnerToken  *string
	LockedUntil *time.Time
	DueAt       *time.Time
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	ProcessedAt *time.Time
}

// Claimable reports whether w's lock and due time allow a claim issued at
// now: locked_until and due_at must each be unset or not after now. It does
// not check status (WorkItem carries none), so a Done or Dead row can still
// report true. It is provided for in-process
// fakes and tests; real claims are evaluated by the storage adapter's SQL,
// not by this method.
func (w WorkItem) Claimable(now time.Time) bool {
	if w.LockedUntil != nil && w.LockedUntil.After(now) {
		return false
	}
	if w.DueAt != nil && w.DueAt.After(now) {
		return false
	}
	return true
}

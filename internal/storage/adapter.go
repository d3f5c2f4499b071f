// Package storage defines the row-locking storage adapter contract
// (component A, spec.md §4.A): the five primitives every table-specific
// service (outbox, inbox, timers, job-runs) is built on top of.
package storage

import (
	"context"
	"time"
)

// TableSpec describes one table's status encoding (spec.md §6: small
// integer for outbox/timers/job-runs, string enum for inbox) and its claim
// ordering column. Every Adapter call takes a TableSpec instead of a bare
// table name so Ack/Abandon/Fail/Reap agree with Claim about which literal
// values mean Ready/InProgress/Done/Dead.
type TableSpec struct {
	Table   string
	OrderBy string // column claims are ordered by for fairness, e.g. "created_at"

	UseStringStatus bool

	ReadyInt      int
	InProgressInt int
	DoneInt       int
	DeadInt       int

	ReadyStr      string
	InProgressStr string
	DoneStr       string
	DeadStr       string
}

// Outbox/timers/job-runs use the small-integer encoding.
func IntTableSpec(table, orderBy string) TableSpec {
	return TableSpec{
		Table: table, OrderBy: orderBy,
		ReadyInt: 0, InProgressInt: 1, DoneInt: 2, DeadInt: 3,
	}
}

// Inbox uses the string-enum encoding.
func StringTableSpec(table, orderBy string) TableSpec {
	return TableSpec{
		Table: table, OrderBy: orderBy, UseStringStatus: true,
		ReadyStr: "Seen", InProgressStr: "Processing", DoneStr: "Done", DeadStr: "Dead",
	}
}

// ClaimSpec parameterizes Adapter.Claim.
type ClaimSpec struct {
	TableSpec
	OwnerToken   string
	LeaseSeconds int
	BatchSize    int
	Now          time.Time
}

// AbandonOpts carries the optional last_error/due_at spec.md §4.A allows on
// abandon.
type AbandonOpts struct {
	LastError *string
	DueAt     *time.Time
}

// Adapter is the capability set every backend (postgres, sqlite, ...) must
// implement atomically and without blocking concurrent claimers (spec.md
// §4.A/§5).
type Adapter interface {
	// Claim selects up to spec.BatchSize claimable rows, transitions them to
	// InProgress under spec.OwnerToken with a locked_until of
	// spec.Now+LeaseSeconds, and returns their ids in claim order.
	// BatchSize <= 0 returns (nil, nil) without touching storage.
	Claim(ctx context.Context, spec ClaimSpec) ([]string, error)

	// Ack transitions matching InProgress rows owned by ownerToken to Done.
	// Rows whose owner has expired or changed are silently skipped; the
	// affected count lets the caller detect that.
	Ack(ctx context.Context, spec TableSpec, ownerToken string, ids []string, now time.Time) (int64, error)

	// Abandon transitions matching rows back to Ready, clears the owner,
	// increments attempts, and applies opts if given.
	Abandon(ctx context.Context, spec TableSpec, ownerToken string, ids []string, opts AbandonOpts) (int64, error)

	// Fail transitions matching rows to Dead, clears the owner, and
	// persists reason.
	Fail(ctx context.Context, spec TableSpec, ownerToken string, ids []string, reason string) (int64, error)

	// Reap clears owner/locked_until on every InProgress row with
	// locked_until <= now and returns it to Ready, preserving attempts.
	Reap(ctx context.Context, spec TableSpec, now time.Time) (int64, error)
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// leaseRow is one row of the leases table, read directly for operator
// visibility. lease.Backend intentionally exposes no "list all leases"
// method (spec.md §4.C scopes the contract to acquire/renew/release/sweep
// for a single resource at a time), so queuectl reads the table itself
// here rather than extending the core package's contract for an ops-only
// concern.
type leaseRow struct {
	Resource     string
	Owner        sql.NullString
	Until        sql.NullTime
	FencingToken int64
}

type leaseInspector interface {
	List(ctx context.Context) ([]leaseRow, error)
}

type postgresLeaseInspector struct {
	pool *pgxpool.Pool
}

func (p postgresLeaseInspector) List(ctx context.Context) ([]leaseRow, error) {
	rows, err := p.pool.Query(ctx, `SELECT resource_name, owner_token, lease_until, fencing_token FROM leases ORDER BY resource_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leaseRow
	for rows.Next() {
		var r leaseRow
		if err := rows.Scan(&r.Resource, &r.Owner, &r.Until, &r.FencingToken); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type sqliteLeaseInspector struct {
	db *sql.DB
}

func (s sqliteLeaseInspector) List(ctx context.Context) ([]leaseRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT resource_name, owner_token, lease_until, fencing_token FROM leases ORDER BY resource_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leaseRow
	for rows.Next() {
		var until sql.NullString
		var r leaseRow
		if err := rows.Scan(&r.Resource, &r.Owner, &until, &r.FencingToken); err != nil {
			return nil, err
		}
		if until.Valid {
			t, err := time.Parse(time.RFC3339Nano, until.String)
			if err != nil {
				return nil, err
			}
			r.Until = sql.NullTime{Time: t, Valid: true}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Inspect and sweep lease ownership",
}

func init() {
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "List every resource's current lease holder and fencing token",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := current.leases.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no leases recorded")
				return nil
			}
			for _, r := range rows {
				owner := "(unheld)"
				if r.Owner.Valid && r.Owner.String != "" {
					owner = r.Owner.String
				}
				until := "-"
				if r.Until.Valid {
					until = r.Until.Time.Format(time.RFC3339)
				}
				fmt.Printf("%-32s owner=%-38s until=%-25s fencing_token=%d\n", r.Resource, owner, until, r.FencingToken)
			}
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup-expired",
		Short: "Clear ownership on every lease whose holder never released or renewed in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := current.leaseMgr.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d expired lease(s) cleared\n", n)
			return nil
		},
	}

	leaseCmd.AddCommand(inspectCmd, cleanupCmd)
}

// Command queuectl is an operator CLI wired directly against a
// queuecore backend, in the spf13/cobra root-plus-subcommand shape
// mycelian-ai-mycelian-memory's memoryctl uses, but talking straight to
// storage/scheduler/lease instead of an HTTP client: job and timer
// lifecycle and lease inspection are not all reachable through
// queuehost's admin HTTP surface, so queuectl reads config.Load() and
// connects the same way queuehost does.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/baechuer/queuecore/internal/config"
	"github.com/baechuer/queuecore/internal/lease"
	"github.com/baechuer/queuecore/internal/scheduler"
	pgstorage "github.com/baechuer/queuecore/internal/storage/postgres"
	sqlitestorage "github.com/baechuer/queuecore/internal/storage/sqlite"
)

// nopLogger silences the Manager's background renewer logging: queuectl's
// CleanupExpired call never starts a renewer goroutine, but Manager still
// requires a logger to construct.
func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// app bundles every collaborator a subcommand might need. It is built once
// in PersistentPreRunE and torn down in PersistentPostRun.
type app struct {
	jobs        *scheduler.Jobs
	jobRuns     scheduler.JobRunStore
	timers      *scheduler.Timers
	leaseMgr    *lease.Manager
	leases      leaseInspector
	closeResources func()
}

var current *app

func connect(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres pool create: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		adapter := pgstorage.New(pool)
		jobStore := scheduler.NewPostgresJobStore(pool)
		jobRunStore := scheduler.NewPostgresJobRunStore(pool)
		timerStore := scheduler.NewPostgresTimerStore(pool)
		leaseBackend := lease.NewPostgresBackend(pool)
		return &app{
			jobs:           scheduler.NewJobs(jobStore, timerStore),
			jobRuns:        jobRunStore,
			timers:         scheduler.NewTimers(adapter, timerStore),
			leaseMgr:       lease.NewManager(leaseBackend, cfg.LeaseDuration, cfg.LeaseRenewPercent, nopLogger()),
			leases:         postgresLeaseInspector{pool: pool},
			closeResources: pool.Close,
		}, nil
	case config.BackendSQLite:
		db, err := sqlitestorage.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		adapter := sqlitestorage.New(db)
		jobStore := scheduler.NewSQLiteJobStore(db)
		jobRunStore := scheduler.NewSQLiteJobRunStore(db)
		timerStore := scheduler.NewSQLiteTimerStore(db)
		leaseBackend := lease.NewSQLiteBackend(db)
		return &app{
			jobs:           scheduler.NewJobs(jobStore, timerStore),
			jobRuns:        jobRunStore,
			timers:         scheduler.NewTimers(adapter, timerStore),
			leaseMgr:       lease.NewManager(leaseBackend, cfg.LeaseDuration, cfg.LeaseRenewPercent, nopLogger()),
			leases:         sqliteLeaseInspector{db: db},
			closeResources: func() { _ = db.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

var rootCmd = &cobra.Command{
	Use:   "queuectl",
	Short: "Operate on a queuecore backend's jobs, timers, and leases",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.closeResources()
		}
	},
}

func main() {
	rootCmd.AddCommand(jobsCmd, timersCmd, leaseCmd)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command queuehost is the reference host binary: it wires every queuecore
// component against one backend (selected via QUEUECORE_BACKEND) and
// exposes a minimal operator HTTP surface, grounded on
// join-service/api/cmd/main.go's config-load -> connect -> wire -> serve ->
// graceful-shutdown shape. It is a demonstration of wiring, not part of the
// module's core contract (SPEC_FULL.md §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/baechuer/queuecore/internal/config"
	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/fanout"
	"github.com/baechuer/queuecore/internal/idempotency"
	"github.com/baechuer/queuecore/internal/inbox"
	"github.com/baechuer/queuecore/internal/joinbarrier"
	"github.com/baechuer/queuecore/internal/lease"
	"github.com/baechuer/queuecore/internal/logging"
	"github.com/baechuer/queuecore/internal/outbox"
	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/scheduler"
	"github.com/baechuer/queuecore/internal/storage"
	pgstorage "github.com/baechuer/queuecore/internal/storage/postgres"
	sqlitestorage "github.com/baechuer/queuecore/internal/storage/sqlite"
)

// backends bundles every backend-specific collaborator main wires up, so
// the rest of main can stay backend-agnostic after this point, the same
// split join-service's main.go draws between "connect to postgres" and
// "build the application service".
type backends struct {
	adapter        storage.Adapter
	outboxStore    outbox.Store
	inboxStore     inbox.Store
	timerStore     scheduler.TimerStore
	jobStore       scheduler.JobStore
	jobRunStore    scheduler.JobRunStore
	leaseBackend   lease.Backend
	idempotency    idempotency.Backend
	policyStore    fanout.PolicyStore
	cursorStore    fanout.CursorStore
	joinBackend    joinbarrier.Backend
	closeResources func()

	// materializerGate is non-nil only on Postgres: a session-scoped
	// advisory lock a host holds for its whole lifetime so hosts that lose
	// the race never even start polling the row-based materializer lease.
	// SQLite has no advisory lock primitive, so on that backend the
	// row-based lease.Manager alone decides who materializes.
	materializerGate *lease.Gate
}

func wirePostgres(ctx context.Context, cfg *config.Config) (*backends, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool create: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgstorage.Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema apply: %w", err)
	}

	return &backends{
		adapter:        pgstorage.New(pool),
		outboxStore:    outbox.NewPostgresStore(pool),
		inboxStore:     inbox.NewPostgresStore(pool),
		timerStore:     scheduler.NewPostgresTimerStore(pool),
		jobStore:       scheduler.NewPostgresJobStore(pool),
		jobRunStore:    scheduler.NewPostgresJobRunStore(pool),
		leaseBackend:   lease.NewPostgresBackend(pool),
		idempotency:    idempotency.NewPostgresBackend(pool),
		policyStore:    fanout.NewPostgresPolicyStore(pool),
		cursorStore:    fanout.NewPostgresCursorStore(pool),
		joinBackend:      joinbarrier.NewPostgresBackend(pool),
		closeResources:   pool.Close,
		materializerGate: lease.NewGate(pool, "scheduler-materializer-singleton"),
	}, nil
}

func wireSQLite(cfg *config.Config) (*backends, error) {
	db, err := sqlitestorage.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(sqlitestorage.Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema apply: %w", err)
	}

	return &backends{
		adapter:        sqlitestorage.New(db),
		outboxStore:    outbox.NewSQLiteStore(db),
		inboxStore:     inbox.NewSQLiteStore(db),
		timerStore:     scheduler.NewSQLiteTimerStore(db),
		jobStore:       scheduler.NewSQLiteJobStore(db),
		jobRunStore:    scheduler.NewSQLiteJobRunStore(db),
		leaseBackend:   lease.NewSQLiteBackend(db),
		idempotency:    idempotency.NewSQLiteBackend(db),
		policyStore:    fanout.NewSQLitePolicyStore(db),
		cursorStore:    fanout.NewSQLiteCursorStore(db),
		joinBackend:    joinbarrier.NewSQLiteBackend(db),
		closeResources: func() { _ = db.Close() },
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logging.Init()
	log := logging.Logger.With().Str("service", "queuehost").Str("env", cfg.AppEnv).Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b *backends
	switch cfg.Backend {
	case config.BackendPostgres:
		b, err = wirePostgres(rootCtx, cfg)
	case config.BackendSQLite:
		b, err = wireSQLite(cfg)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("backend wiring failed")
	}
	defer b.closeResources()
	log.Info().Str("backend", string(cfg.Backend)).Msg("storage backend ready")

	// Work-queue engines, one per table.
	outboxEngine := outbox.New(b.adapter, b.outboxStore)
	inboxEngine := inbox.New(b.adapter, b.inboxStore)
	timers := scheduler.NewTimers(b.adapter, b.timerStore)
	jobRunsEngine := queue.New(b.adapter, storage.IntTableSpec("job_runs", "due_at"), b.jobRunStore)

	// Lease manager: one per cadence class, per RecommendedLeaseDuration's
	// doc comment. The materializer and the fan-out coordinator each get
	// their own so a slow fan-out pass never contends with the
	// materializer's renew cadence.
	materializerLeases := lease.NewManager(b.leaseBackend, cfg.LeaseDuration, cfg.LeaseRenewPercent, logging.Component("lease.materializer"))
	fanoutLeases := lease.NewManager(b.leaseBackend, cfg.LeaseDuration, cfg.LeaseRenewPercent, logging.Component("lease.fanout"))

	idem := idempotency.New(b.idempotency, cfg.DefaultLease)
	_ = idem // exercised by a host's own handlers; demo registry below shows the shape

	jobs := scheduler.NewJobs(b.jobStore, b.timerStore)
	materializer := scheduler.NewMaterializer(b.jobStore, b.jobRunStore, materializerLeases, cfg.MaterializeLookahead, cfg.MaterializeInterval, logging.Component("scheduler"))

	barrier := joinbarrier.New(b.joinBackend)
	joinObserver := joinbarrier.NewDispatcherObserver(barrier, b.joinBackend, logging.Component("joinbarrier"))

	planner := fanout.StaticPlanner{Shards: []string{"shard-0", "shard-1", "shard-2", "shard-3"}}
	coordinator := fanout.NewCoordinator(fanoutLeases, b.policyStore, b.cursorStore, planner, outboxEngine, barrier, logging.Component("fanout"))

	handlers := domain.NewRegistry()
	handlers.Register("demo.echo", domain.HandlerFunc(func(ctx context.Context, topic string, payload []byte) domain.HandlerOutcome {
		logging.Component("demo").Info().Str("topic", topic).Bytes("payload", payload).Msg("echo handler")
		return domain.Ok()
	}))

	backoff := queue.Backoff{BaseSeconds: cfg.BackoffBaseSec, CapSeconds: cfg.BackoffCapSec}
	dispatcherCfg := func(prefix string) queue.DispatcherConfig {
		return queue.DispatcherConfig{
			OwnerPrefix:  prefix,
			BatchSize:    cfg.ClaimBatchSize,
			LeaseSeconds: int(cfg.DefaultLease.Seconds()),
			PollInterval: cfg.PollInterval,
			ReapInterval: cfg.ReapInterval,
			MaxAttempts:  cfg.MaxAttempts,
			Backoff:      backoff,
		}
	}

	outboxDispatcher := queue.NewDispatcher(outboxEngine.Engine, handlers, dispatcherCfg("outbox"), logging.Component("dispatcher.outbox"))
	outboxDispatcher.Observer = joinObserver
	timerDispatcher := queue.NewDispatcher(timers.Engine, handlers, dispatcherCfg("timers"), logging.Component("dispatcher.timers"))
	jobRunDispatcher := queue.NewDispatcher(jobRunsEngine, handlers, dispatcherCfg("job_runs"), logging.Component("dispatcher.job_runs"))
	_ = inboxEngine // inbound ingest is driven by the host's own transport, not a Dispatcher

	go outboxDispatcher.Run(rootCtx)
	go timerDispatcher.Run(rootCtx)
	go jobRunDispatcher.Run(rootCtx)

	if startSingletonLoop(rootCtx, b.materializerGate, "scheduler-materializer", log) {
		go materializer.Run(rootCtx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", 8080),
		Handler:           newRouter(routerDeps{Jobs: jobs, JobRuns: b.jobRunStore, Coordinator: coordinator, Log: log}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("admin http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("admin http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}

// startSingletonLoop reports whether this host should start a background
// singleton loop. A nil gate (SQLite: no advisory lock primitive) always
// says yes, leaving the decision entirely to the loop's own row-based
// lease.Manager. A non-nil gate tries a few non-blocking acquires first;
// losing means another host already holds this loop, so this process
// skips starting it rather than spinning a goroutine that would just lose
// every lease.Manager.Acquire anyway.
func startSingletonLoop(ctx context.Context, gate *lease.Gate, name string, log zerolog.Logger) bool {
	if gate == nil {
		return true
	}
	acquired, err := gate.TryAcquire(ctx, 3)
	if err != nil {
		log.Warn().Err(err).Str("loop", name).Msg("singleton gate acquire errored, skipping loop on this host")
		return false
	}
	if !acquired {
		log.Info().Str("loop", name).Msg("singleton gate held by another host, skipping loop here")
		return false
	}
	return true
}

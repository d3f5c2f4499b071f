package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/queuecore/internal/queue"
)

type PostgresTimerStore struct {
	pool *pgxpool.Pool
}

func NewPostgresTimerStore(pool *pgxpool.Pool) *PostgresTimerStore {
	return &PostgresTimerStore{pool: pool}
}

var _ TimerStore = (*PostgresTimerStore)(nil)

func (s *PostgresTimerStore) Insert(ctx context.Context, id, topic string, payload []byte, dueAt, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO timers (id, topic, payload, status, due_at, created_at, last_seen_at)
		VALUES ($1, $2, $3, 0, $4, $5, $5)
	`, id, topic, payload, dueAt, now)
	return err
}

func (s *PostgresTimerStore) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM timers WHERE id = $1 AND status = 0`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresTimerStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	return loadItemsPostgres(ctx, s.pool, "timers", ids)
}

func (s *PostgresTimerStore) EarliestDue(ctx context.Context) (*time.Time, error) {
	var due *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MIN(due_at) FROM timers WHERE status = 0`).Scan(&due)
	if err != nil {
		return nil, err
	}
	return due, nil
}

// loadItemsPostgres is shared between timers and job_runs, whose rows have
// the identical (id, topic, payload, attempts) projection.
func loadItemsPostgres(ctx context.Context, pool *pgxpool.Pool, table string, ids []string) ([]queue.Item, error) {
	rows, err := pool.Query(ctx, `SELECT id, topic, payload, attempts FROM `+table+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]queue.Item, len(ids))
	for rows.Next() {
		var it queue.Item
		if err := rows.Scan(&it.ID, &it.Topic, &it.Payload, &it.Attempts); err != nil {
			return nil, err
		}
		byID[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			items = append(items, it)
		}
	}
	return items, nil
}

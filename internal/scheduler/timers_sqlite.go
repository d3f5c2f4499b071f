package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/baechuer/queuecore/internal/queue"
)

type SQLiteTimerStore struct {
	db *sql.DB
}

func NewSQLiteTimerStore(db *sql.DB) *SQLiteTimerStore {
	return &SQLiteTimerStore{db: db}
}

var _ TimerStore = (*SQLiteTimerStore)(nil)

func (s *SQLiteTimerStore) Insert(ctx context.Context, id, topic string, payload []byte, dueAt, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timers (id, topic, payload, status, due_at, created_at, last_seen_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
	`, id, topic, payload, dueAt.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteTimerStore) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ? AND status = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteTimerStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	return loadItemsSQLite(ctx, s.db, "timers", ids)
}

func (s *SQLiteTimerStore) EarliestDue(ctx context.Context) (*time.Time, error) {
	var dueStr sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MIN(due_at) FROM timers WHERE status = 0`).Scan(&dueStr)
	if err != nil {
		return nil, err
	}
	if !dueStr.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, dueStr.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func loadItemsSQLite(ctx context.Context, db *sql.DB, table string, ids []string) ([]queue.Item, error) {
	items := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		var it queue.Item
		it.ID = id
		err := db.QueryRowContext(ctx, `SELECT topic, payload, attempts FROM `+table+` WHERE id = ?`, id).
			Scan(&it.Topic, &it.Payload, &it.Attempts)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

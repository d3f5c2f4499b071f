package inbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/baechuer/queuecore/internal/queue"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Ingest(ctx context.Context, source, messageID, topic string, payload []byte, hash string, now time.Time) (bool, error) {
	nowStr := now.UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO inbox (id, source, message_id, topic, payload, hash, status, first_seen_at, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, 'Seen', ?, ?, ?)
	`, uuid.NewString(), source, messageID, topic, payload, hash, nowStr, nowStr, nowStr)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	items := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		var it queue.Item
		it.ID = id
		err := s.db.QueryRowContext(ctx, `SELECT topic, payload, attempts FROM inbox WHERE id = ?`, id).
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

package outbox

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

func (s *SQLiteStore) Insert(ctx context.Context, messageID, topic string, payload []byte, correlationID string, now time.Time) (string, error) {
	nowStr := now.UTC().Format(time.RFC3339Nano)
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO outbox (id, message_id, topic, payload, correlation_id, status, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET message_id = excluded.message_id
		RETURNING id
	`, uuid.NewString(), messageID, topic, payload, nullableString(correlationID), nowStr, nowStr).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	items := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		var it queue.Item
		it.ID = id
		err := s.db.QueryRowContext(ctx, `SELECT topic, payload, attempts FROM outbox WHERE id = ?`, id).
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

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

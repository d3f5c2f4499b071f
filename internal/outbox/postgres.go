package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/queuecore/internal/queue"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Insert(ctx context.Context, messageID, topic string, payload []byte, correlationID string, now time.Time) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO outbox (id, message_id, topic, payload, correlation_id, status, created_at, last_seen_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (message_id) DO UPDATE SET message_id = EXCLUDED.message_id
		RETURNING id
	`, messageID, topic, payload, nullableString(correlationID), now).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, payload, attempts FROM outbox WHERE id = ANY($1)
	`, ids)
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

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

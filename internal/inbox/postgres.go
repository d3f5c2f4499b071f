package inbox

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

func (s *PostgresStore) Ingest(ctx context.Context, source, messageID, topic string, payload []byte, hash string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO inbox (id, source, message_id, topic, payload, hash, status, first_seen_at, created_at, last_seen_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 'Seen', $6, $6, $6)
		ON CONFLICT (message_id) DO NOTHING
	`, source, messageID, topic, payload, hash, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Load(ctx context.Context, ids []string) ([]queue.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, payload, attempts FROM inbox WHERE id = ANY($1)
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

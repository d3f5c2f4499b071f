package joinbarrier

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

var _ Backend = (*PostgresBackend)(nil)

func (b *PostgresBackend) CreateJoin(ctx context.Context, expectedSteps int, metadata []byte) (string, error) {
	var joinID string
	err := b.pool.QueryRow(ctx, `
		INSERT INTO outbox_joins (expected_steps, metadata) VALUES ($1, $2) RETURNING join_id
	`, expectedSteps, metadata).Scan(&joinID)
	return joinID, err
}

func (b *PostgresBackend) Attach(ctx context.Context, joinID, outboxMessageID string) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO outbox_join_members (join_id, outbox_message_id) VALUES ($1, $2)
		ON CONFLICT (join_id, outbox_message_id) DO NOTHING
	`, joinID, outboxMessageID)
	return err
}

func (b *PostgresBackend) OnMemberCompleted(ctx context.Context, joinID, outboxMessageID string) (Join, error) {
	return b.onMemberEvent(ctx, joinID, outboxMessageID, true)
}

func (b *PostgresBackend) OnMemberFailed(ctx context.Context, joinID, outboxMessageID string) (Join, error) {
	return b.onMemberEvent(ctx, joinID, outboxMessageID, false)
}

func (b *PostgresBackend) onMemberEvent(ctx context.Context, joinID, outboxMessageID string, completed bool) (Join, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return Join{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var join Join
	err = tx.QueryRow(ctx, `
		SELECT join_id, expected_steps, completed_steps, failed_steps, status, metadata
		FROM outbox_joins WHERE join_id = $1 FOR UPDATE
	`, joinID).Scan(&join.JoinID, &join.ExpectedSteps, &join.CompletedSteps, &join.FailedSteps, &join.Status, &join.Metadata)
	if err != nil {
		return Join{}, err
	}

	if join.Status != StatusInProgress {
		return join, tx.Commit(ctx)
	}

	var alreadyCompleted, alreadyFailed bool
	err = tx.QueryRow(ctx, `
		SELECT completed_at IS NOT NULL, failed_at IS NOT NULL
		FROM outbox_join_members WHERE join_id = $1 AND outbox_message_id = $2
	`, joinID, outboxMessageID).Scan(&alreadyCompleted, &alreadyFailed)
	if err == pgx.ErrNoRows {
		return join, tx.Commit(ctx)
	}
	if err != nil {
		return Join{}, err
	}
	if alreadyCompleted || alreadyFailed {
		return join, tx.Commit(ctx)
	}

	if completed {
		if _, err := tx.Exec(ctx, `UPDATE outbox_join_members SET completed_at = now() WHERE join_id = $1 AND outbox_message_id = $2`, joinID, outboxMessageID); err != nil {
			return Join{}, err
		}
		join.CompletedSteps++
	} else {
		if _, err := tx.Exec(ctx, `UPDATE outbox_join_members SET failed_at = now() WHERE join_id = $1 AND outbox_message_id = $2`, joinID, outboxMessageID); err != nil {
			return Join{}, err
		}
		join.FailedSteps++
	}
	join.Status = DeriveStatus(join.ExpectedSteps, join.CompletedSteps, join.FailedSteps)

	if _, err := tx.Exec(ctx, `
		UPDATE outbox_joins SET completed_steps = $2, failed_steps = $3, status = $4 WHERE join_id = $1
	`, joinID, join.CompletedSteps, join.FailedSteps, join.Status); err != nil {
		return Join{}, err
	}

	return join, tx.Commit(ctx)
}

func (b *PostgresBackend) Get(ctx context.Context, joinID string) (Join, bool, error) {
	var join Join
	err := b.pool.QueryRow(ctx, `
		SELECT join_id, expected_steps, completed_steps, failed_steps, status, metadata
		FROM outbox_joins WHERE join_id = $1
	`, joinID).Scan(&join.JoinID, &join.ExpectedSteps, &join.CompletedSteps, &join.FailedSteps, &join.Status, &join.Metadata)
	if err == pgx.ErrNoRows {
		return Join{}, false, nil
	}
	if err != nil {
		return Join{}, false, err
	}
	return join, true, nil
}

func (b *PostgresBackend) FindJoinForMember(ctx context.Context, outboxMessageID string) (string, bool, error) {
	var joinID string
	err := b.pool.QueryRow(ctx, `
		SELECT join_id FROM outbox_join_members WHERE outbox_message_id = $1
	`, outboxMessageID).Scan(&joinID)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return joinID, true, nil
}

package joinbarrier

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

var _ Backend = (*SQLiteBackend)(nil)

func (b *SQLiteBackend) CreateJoin(ctx context.Context, expectedSteps int, metadata []byte) (string, error) {
	joinID := uuid.NewString()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO outbox_joins (join_id, expected_steps, metadata) VALUES (?, ?, ?)
	`, joinID, expectedSteps, metadata)
	if err != nil {
		return "", err
	}
	return joinID, nil
}

func (b *SQLiteBackend) Attach(ctx context.Context, joinID, outboxMessageID string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outbox_join_members (join_id, outbox_message_id) VALUES (?, ?)
	`, joinID, outboxMessageID)
	return err
}

func (b *SQLiteBackend) OnMemberCompleted(ctx context.Context, joinID, outboxMessageID string) (Join, error) {
	return b.onMemberEvent(ctx, joinID, outboxMessageID, true)
}

func (b *SQLiteBackend) OnMemberFailed(ctx context.Context, joinID, outboxMessageID string) (Join, error) {
	return b.onMemberEvent(ctx, joinID, outboxMessageID, false)
}

func (b *SQLiteBackend) onMemberEvent(ctx context.Context, joinID, outboxMessageID string, completed bool) (Join, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Join{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var join Join
	err = tx.QueryRowContext(ctx, `
		SELECT join_id, expected_steps, completed_steps, failed_steps, status, metadata
		FROM outbox_joins WHERE join_id = ?
	`, joinID).Scan(&join.JoinID, &join.ExpectedSteps, &join.CompletedSteps, &join.FailedSteps, &join.Status, &join.Metadata)
	if err != nil {
		return Join{}, err
	}

	if join.Status != StatusInProgress {
		return join, tx.Commit()
	}

	var completedAt, failedAt sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT completed_at, failed_at FROM outbox_join_members WHERE join_id = ? AND outbox_message_id = ?
	`, joinID, outboxMessageID).Scan(&completedAt, &failedAt)
	if err == sql.ErrNoRows {
		return join, tx.Commit()
	}
	if err != nil {
		return Join{}, err
	}
	if completedAt.Valid || failedAt.Valid {
		return join, tx.Commit()
	}

	if completed {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_join_members SET completed_at = datetime('now') WHERE join_id = ? AND outbox_message_id = ?`, joinID, outboxMessageID); err != nil {
			return Join{}, err
		}
		join.CompletedSteps++
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_join_members SET failed_at = datetime('now') WHERE join_id = ? AND outbox_message_id = ?`, joinID, outboxMessageID); err != nil {
			return Join{}, err
		}
		join.FailedSteps++
	}
	join.Status = DeriveStatus(join.ExpectedSteps, join.CompletedSteps, join.FailedSteps)

	if _, err := tx.ExecContext(ctx, `
		UPDATE outbox_joins SET completed_steps = ?, failed_steps = ?, status = ? WHERE join_id = ?
	`, join.CompletedSteps, join.FailedSteps, join.Status, joinID); err != nil {
		return Join{}, err
	}

	return join, tx.Commit()
}

func (b *SQLiteBackend) Get(ctx context.Context, joinID string) (Join, bool, error) {
	var join Join
	err := b.db.QueryRowContext(ctx, `
		SELECT join_id, expected_steps, completed_steps, failed_steps, status, metadata
		FROM outbox_joins WHERE join_id = ?
	`, joinID).Scan(&join.JoinID, &join.ExpectedSteps, &join.CompletedSteps, &join.FailedSteps, &join.Status, &join.Metadata)
	if err == sql.ErrNoRows {
		return Join{}, false, nil
	}
	if err != nil {
		return Join{}, false, err
	}
	return join, true, nil
}

func (b *SQLiteBackend) FindJoinForMember(ctx context.Context, outboxMessageID string) (string, bool, error) {
	var joinID string
	err := b.db.QueryRowContext(ctx, `
		SELECT join_id FROM outbox_join_members WHERE outbox_message_id = ?
	`, outboxMessageID).Scan(&joinID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return joinID, true, nil
}

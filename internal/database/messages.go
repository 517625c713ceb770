package database

import (
	"context"
	"fmt"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/models"
)

func (db *DB) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO messages (id, engagement_id, sender_id, receiver_id, sender_type, text, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		msg.ID, msg.EngagementID, msg.SenderID, msg.ReceiverID, msg.SenderType, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// AppendSystemMessages writes msgs in a single transaction so both
// participants see the greeting or neither does. It writes nothing and
// reports false when the engagement already has system messages.
func (db *DB) AppendSystemMessages(ctx context.Context, msgs []*models.Message) (bool, error) {
	if len(msgs) == 0 {
		return false, nil
	}
	engagementID := msgs[0].EngagementID

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE engagement_id = ? AND sender_type = ?`,
		engagementID, models.SenderSystem,
	).Scan(&existing); err != nil {
		return false, fmt.Errorf("failed to count system messages: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (id, engagement_id, sender_id, receiver_id, sender_type, text, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg.SenderType != models.SenderSystem {
			return false, fmt.Errorf("%w: sender type %q is not system", domain.ErrValidation, msg.SenderType)
		}
		if msg.EngagementID != engagementID {
			return false, fmt.Errorf("%w: system messages span engagements", domain.ErrValidation)
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			msg.ID, msg.EngagementID, msg.SenderID, msg.ReceiverID, msg.SenderType, msg.Text, msg.CreatedAt,
		); err != nil {
			return false, fmt.Errorf("failed to append system message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ListMessagesByEngagement returns the log in chronological order.
func (db *DB) ListMessagesByEngagement(ctx context.Context, engagementID string) ([]*models.Message, error) {
	query := `SELECT id, engagement_id, sender_id, receiver_id, sender_type, text, created_at
              FROM messages WHERE engagement_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, query, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(&m.ID, &m.EngagementID, &m.SenderID, &m.ReceiverID, &m.SenderType, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/models"
)

const engagementColumns = `id, requester_id, provider_id, goal, duration, total_amount, platform_fee,
	provider_income, currency, is_paid, paid_at, payment_intent_id, checkout_session_id, status,
	decided_at, refunded_at, refund_error, refund_attempts, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngagement(row rowScanner) (*models.Engagement, error) {
	e := &models.Engagement{}
	var checkoutSessionID sql.NullString
	err := row.Scan(
		&e.ID, &e.RequesterID, &e.ProviderID, &e.Goal, &e.Duration, &e.TotalAmount, &e.PlatformFee,
		&e.ProviderIncome, &e.Currency, &e.IsPaid, &e.PaidAt, &e.PaymentIntentID, &checkoutSessionID, &e.Status,
		&e.DecidedAt, &e.RefundedAt, &e.RefundError, &e.RefundAttempts, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.CheckoutSessionID = checkoutSessionID.String
	return e, nil
}

// CreateEngagementIfAbsent inserts e unless an entry with the same payment intent
// already exists. It reports whether a new row was written.
func (db *DB) CreateEngagementIfAbsent(ctx context.Context, e *models.Engagement) (bool, error) {
	if strings.TrimSpace(e.PaymentIntentID) == "" {
		return false, fmt.Errorf("%w: payment intent id is required", domain.ErrValidation)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	if e.Status == "" {
		e.Status = models.StatusPending
	}
	e.Version = 1

	query := `INSERT INTO engagements (` + engagementColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(payment_intent_id) DO NOTHING`
	result, err := db.ExecContext(ctx, query,
		e.ID, e.RequesterID, e.ProviderID, e.Goal, e.Duration, e.TotalAmount, e.PlatformFee,
		e.ProviderIncome, e.Currency, e.IsPaid, e.PaidAt, e.PaymentIntentID, e.CheckoutSessionID, e.Status,
		e.DecidedAt, e.RefundedAt, e.RefundError, e.RefundAttempts, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create engagement: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (db *DB) GetEngagement(ctx context.Context, id string) (*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE id = ?`
	e, err := scanEngagement(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement: %w", err)
	}
	return e, nil
}

func (db *DB) GetEngagementByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE payment_intent_id = ?`
	e, err := scanEngagement(db.QueryRowContext(ctx, query, paymentIntentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement by payment intent: %w", err)
	}
	return e, nil
}

// TransitionEngagement moves a pending engagement to toStatus. Only the first
// of several concurrent calls succeeds.
func (db *DB) TransitionEngagement(ctx context.Context, id, toStatus string) error {
	if toStatus != models.StatusAccepted && toStatus != models.StatusRejected {
		return fmt.Errorf("%w: invalid target status %q", domain.ErrValidation, toStatus)
	}

	now := time.Now().UTC()
	query := `UPDATE engagements SET status = ?, decided_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, toStatus, now, now, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to transition engagement: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		return nil
	}

	if _, err := db.GetEngagement(ctx, id); err != nil {
		return err
	}
	return domain.ErrAlreadyDecided
}

// MarkEngagementRefunded clears the payment flags of a rejected engagement.
func (db *DB) MarkEngagementRefunded(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `UPDATE engagements
              SET is_paid = 0, paid_at = NULL, refunded_at = ?, refund_error = NULL,
                  refund_attempts = refund_attempts + 1, updated_at = ?, version = version + 1
              WHERE id = ? AND status = ? AND is_paid = 1`
	result, err := db.ExecContext(ctx, query, now, now, id, models.StatusRejected)
	if err != nil {
		return fmt.Errorf("failed to mark engagement refunded: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		e, err := db.GetEngagement(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != models.StatusRejected {
			return fmt.Errorf("%w: engagement %s is %s", domain.ErrValidation, id, e.Status)
		}
	}
	return nil
}

func (db *DB) RecordRefundFailure(ctx context.Context, id, reason string) error {
	query := `UPDATE engagements
              SET refund_error = ?, refund_attempts = refund_attempts + 1, updated_at = ?, version = version + 1
              WHERE id = ?`
	result, err := db.ExecContext(ctx, query, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record refund failure: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) ListEngagementsByProvider(ctx context.Context, providerID, status string) ([]*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements
              WHERE provider_id = ? AND (? = '' OR status = ?) ORDER BY created_at DESC`
	return db.queryEngagements(ctx, query, providerID, status, status)
}

func (db *DB) ListEngagementsByRequester(ctx context.Context, requesterID, status string) ([]*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements
              WHERE requester_id = ? AND (? = '' OR status = ?) ORDER BY created_at DESC`
	return db.queryEngagements(ctx, query, requesterID, status, status)
}

func (db *DB) ListEngagements(ctx context.Context, status string, limit int) ([]*models.Engagement, error) {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	query := `SELECT ` + engagementColumns + ` FROM engagements
              WHERE (? = '' OR status = ?) ORDER BY created_at DESC LIMIT ?`
	return db.queryEngagements(ctx, query, status, status, limit)
}

// ListUnrefundedEngagements returns rejected engagements still marked as paid.
func (db *DB) ListUnrefundedEngagements(ctx context.Context) ([]*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements
              WHERE status = ? AND is_paid = 1 ORDER BY decided_at ASC`
	return db.queryEngagements(ctx, query, models.StatusRejected)
}

// ListAcceptedWithoutChat returns accepted engagements whose system messages
// were never written.
func (db *DB) ListAcceptedWithoutChat(ctx context.Context) ([]*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements e
              WHERE e.status = ? AND NOT EXISTS (
                  SELECT 1 FROM messages m WHERE m.engagement_id = e.id AND m.sender_type = ?)
              ORDER BY e.decided_at ASC`
	return db.queryEngagements(ctx, query, models.StatusAccepted, models.SenderSystem)
}

func (db *DB) ListEngagementsByCreatedRange(ctx context.Context, start, end time.Time) ([]*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements
              WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC`
	return db.queryEngagements(ctx, query, start.UTC(), end.UTC())
}

func (db *DB) queryEngagements(ctx context.Context, query string, args ...any) ([]*models.Engagement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list engagements: %w", err)
	}
	defer rows.Close()

	var out []*models.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan engagement: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate engagements: %w", err)
	}
	return out, nil
}

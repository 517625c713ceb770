package database

import (
	"context"
	"fmt"
	"time"

	"healthmate/internal/models"
)

// RecordWebhookEvent stores a delivery. Redeliveries of the same event bump
// the counter and keep the first outcome unless it was invalid.
func (db *DB) RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	query := `INSERT INTO webhook_events (provider, event_id, event_type, payment_intent_id, engagement_id, outcome, deliveries, received_at)
              VALUES (?, ?, ?, ?, ?, ?, 1, ?)
              ON CONFLICT(provider, event_id) DO UPDATE SET
                  deliveries = deliveries + 1,
                  outcome = CASE WHEN webhook_events.outcome = 'invalid' THEN excluded.outcome ELSE webhook_events.outcome END`
	_, err := db.ExecContext(ctx, query,
		ev.Provider, ev.EventID, ev.EventType, ev.PaymentIntentID, ev.EngagementID, ev.Outcome, ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (db *DB) GetWebhookEvent(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error) {
	query := `SELECT id, provider, event_id, event_type, COALESCE(payment_intent_id, ''), COALESCE(engagement_id, ''),
                     outcome, deliveries, received_at
              FROM webhook_events WHERE provider = ? AND event_id = ?`
	ev := &models.WebhookEvent{}
	err := db.QueryRowContext(ctx, query, provider, eventID).Scan(
		&ev.ID, &ev.Provider, &ev.EventID, &ev.EventType, &ev.PaymentIntentID, &ev.EngagementID,
		&ev.Outcome, &ev.Deliveries, &ev.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return ev, nil
}

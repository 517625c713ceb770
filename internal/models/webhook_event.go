package models

import "time"

// WebhookEvent is the audit record of a gateway delivery.
type WebhookEvent struct {
	ID              int64     `json:"id"`
	Provider        string    `json:"provider"`
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	EngagementID    string    `json:"engagement_id,omitempty"`
	Outcome         string    `json:"outcome"`
	Deliveries      int       `json:"deliveries"`
	ReceivedAt      time.Time `json:"received_at"`
}

// CheckoutCompleted is the gateway-neutral view of a settled checkout session.
type CheckoutCompleted struct {
	EventID         string
	EventType       string
	SessionID       string
	PaymentIntentID string
	RequesterID     string
	AmountTotal     Money
	Currency        string
	Metadata        map[string]string
}

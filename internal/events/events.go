package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventEngagementCreated  = "engagement_created"
	EventEngagementAccepted = "engagement_accepted"
	EventEngagementRejected = "engagement_rejected"
	EventRefundSucceeded    = "refund_succeeded"
	EventRefundFailed       = "refund_failed"
	EventMessageSent        = "message_sent"
)

// AllEngagementEvents lists every type forwarded to the broker.
var AllEngagementEvents = []string{
	EventEngagementCreated,
	EventEngagementAccepted,
	EventEngagementRejected,
	EventRefundSucceeded,
	EventRefundFailed,
	EventMessageSent,
}

// EngagementEventPayload is the snapshot published for engagement lifecycle events.
type EngagementEventPayload struct {
	EngagementID    string    `json:"engagement_id"`
	RequesterID     string    `json:"requester_id"`
	ProviderID      string    `json:"provider_id"`
	Status          string    `json:"status"`
	IsPaid          bool      `json:"is_paid"`
	TotalAmount     int64     `json:"total_amount"`
	Currency        string    `json:"currency"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ChangedBy       string    `json:"changed_by,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// MessageEventPayload is published after a chat message is persisted.
type MessageEventPayload struct {
	MessageID    int64     `json:"message_id,string"`
	EngagementID string    `json:"engagement_id"`
	SenderID     string    `json:"sender_id"`
	ReceiverID   string    `json:"receiver_id"`
	SenderType   string    `json:"sender_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handlers run synchronously.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}

package domain

import (
	"context"
	"time"

	"healthmate/internal/models"
)

// EngagementStore is the persistence contract of the ledger.
type EngagementStore interface {
	CreateEngagementIfAbsent(ctx context.Context, e *models.Engagement) (bool, error)
	GetEngagement(ctx context.Context, id string) (*models.Engagement, error)
	GetEngagementByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Engagement, error)
	TransitionEngagement(ctx context.Context, id, toStatus string) error
	MarkEngagementRefunded(ctx context.Context, id string) error
	RecordRefundFailure(ctx context.Context, id, reason string) error
	ListEngagementsByProvider(ctx context.Context, providerID, status string) ([]*models.Engagement, error)
	ListEngagementsByRequester(ctx context.Context, requesterID, status string) ([]*models.Engagement, error)
	ListEngagements(ctx context.Context, status string, limit int) ([]*models.Engagement, error)
	ListUnrefundedEngagements(ctx context.Context) ([]*models.Engagement, error)
	ListAcceptedWithoutChat(ctx context.Context) ([]*models.Engagement, error)
	ListEngagementsByCreatedRange(ctx context.Context, start, end time.Time) ([]*models.Engagement, error)
}

// MessageStore is the persistence contract of the message log.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	AppendSystemMessages(ctx context.Context, msgs []*models.Message) (bool, error)
	ListMessagesByEngagement(ctx context.Context, engagementID string) ([]*models.Message, error)
}

// WebhookEventStore records gateway deliveries.
type WebhookEventStore interface {
	RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error
}

// SeenStore backs fast-path dedup and per-key rate limiting.
type SeenStore interface {
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	NotifyOperators(ctx context.Context, text string) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType, engagementID string, payload interface{}) error
}

// RoomOpener is signalled once an engagement's chat becomes available.
type RoomOpener interface {
	Open(engagementID string)
}

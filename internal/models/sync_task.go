package models

import "time"

// SyncTask represents a queued background job (ledger mirror, refund retry,
// chat seeding after accept).
type SyncTask struct {
	ID           int64      `json:"id"`
	TaskType     string     `json:"task_type"`
	EngagementID string     `json:"engagement_id"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastError    *string    `json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
	NextRetryAt  *time.Time `json:"next_retry_at"`
}

// Sync task types.
const (
	TaskMirrorUpsert = "mirror_upsert"
	TaskRefundRetry  = "refund_retry"
	TaskSeedSystem   = "seed_system"
)

package models

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

const (
	SenderRequester = "requester"
	SenderProvider  = "provider"
	SenderSystem    = "system"

	// SystemSenderID is stored as sender_id on server-authored messages.
	SystemSenderID = "system"
)

const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
	RoleAdmin     = "admin"
)

const (
	WebhookOutcomeCreated   = "created"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeInvalid   = "invalid"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// AcceptedSystemText is seeded once per participant when a provider accepts.
const AcceptedSystemText = "Your booking has been accepted. You can now start chatting."

const (
	// DefaultCurrency of checkout sessions.
	DefaultCurrency = "egp"

	// DefaultChatRateLimitMessages messages per window per sender
	DefaultChatRateLimitMessages = 20

	// DefaultChatRateLimitWindow window in seconds
	DefaultChatRateLimitWindow = 60

	// DefaultEventDedupTTL how long a seen webhook event id is remembered, seconds
	DefaultEventDedupTTL = 72 * 60 * 60

	// WorkerQueueSize in-memory queue capacity of the sync worker
	WorkerQueueSize = 128

	// DefaultListLimit for admin listings
	DefaultListLimit = 100
)

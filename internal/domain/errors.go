package domain

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrDuplicateEvent   = errors.New("duplicate event")
	ErrNotFound         = errors.New("engagement not found")
	ErrAlreadyDecided   = errors.New("engagement already decided")
	ErrRefundFailed     = errors.New("refund failed")
	ErrValidation       = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
	ErrChatClosed       = errors.New("chat is not open for this engagement")
	ErrRateLimited      = errors.New("rate limit exceeded")

	// ErrFollowUpPending means the decision is committed but one of its side
	// effects did not complete and has been scheduled again.
	ErrFollowUpPending = errors.New("decision recorded, follow-up pending")
)

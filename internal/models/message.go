package models

import "time"

type Message struct {
	ID           int64     `json:"id,string"`
	EngagementID string    `json:"engagement_id"`
	SenderID     string    `json:"sender_id"`
	ReceiverID   string    `json:"receiver_id"`
	SenderType   string    `json:"sender_type"` // requester, provider, system
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidSenderType reports whether t is a known sender classification.
func ValidSenderType(t string) bool {
	switch t {
	case SenderRequester, SenderProvider, SenderSystem:
		return true
	}
	return false
}

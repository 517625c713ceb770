package chat

import "healthmate/internal/models"

// Client frame types.
const (
	FrameJoin  = "join"
	FrameSend  = "send"
	FrameLeave = "leave"
)

// Server frame types.
const (
	FrameMessage    = "message"
	FrameRoomOpened = "room_opened"
	FrameJoined     = "joined"
	FrameLeft       = "left"
	FrameError      = "error"
)

// Frame is the JSON envelope exchanged over the websocket in both directions.
type Frame struct {
	Type         string            `json:"type"`
	EngagementID string            `json:"engagementId,omitempty"`
	ReceiverID   string            `json:"receiverId,omitempty"`
	Text         string            `json:"text,omitempty"`
	Message      *models.Message   `json:"message,omitempty"`
	History      []*models.Message `json:"history,omitempty"`
	Open         bool              `json:"open,omitempty"`
	Error        string            `json:"error,omitempty"`
}

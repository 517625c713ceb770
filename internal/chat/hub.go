package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/metrics"
	"healthmate/internal/models"

	"github.com/rs/zerolog"
)

// EngagementReader resolves the engagement behind a room.
type EngagementReader interface {
	GetEngagement(ctx context.Context, id string) (*models.Engagement, error)
}

// MessageLog persists and replays chat history.
type MessageLog interface {
	Append(ctx context.Context, msg models.Message) (*models.Message, error)
	ListByEngagement(ctx context.Context, engagementID string) ([]*models.Message, error)
}

type SendInput struct {
	EngagementID string
	SenderID     string
	SenderType   string
	ReceiverID   string
	Text         string
}

// Hub keeps room membership keyed by engagement id. Membership lives only
// in this process.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	open  map[string]bool

	engagements EngagementReader
	messages    MessageLog
	limiter     domain.SeenStore
	rateLimit   int
	rateWindow  time.Duration
	sendBuffer  int
	logger      *zerolog.Logger
}

type Option func(*Hub)

// WithRateLimit caps the messages a sender may post per window.
func WithRateLimit(store domain.SeenStore, limit int, window time.Duration) Option {
	return func(h *Hub) {
		h.limiter = store
		h.rateLimit = limit
		h.rateWindow = window
	}
}

func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.sendBuffer = size
		}
	}
}

func NewHub(engagements EngagementReader, messages MessageLog, logger *zerolog.Logger, opts ...Option) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "chat").Logger()
	h := &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		open:        make(map[string]bool),
		engagements: engagements,
		messages:    messages,
		sendBuffer:  256,
		logger:      &l,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join adds c to the room of engagementID and returns the history so far.
// Only participants and admins may join. c is registered before the history
// is read so no message falls between the two, and removed again if the read
// fails.
func (h *Hub) Join(ctx context.Context, engagementID string, c *Client) ([]*models.Message, error) {
	e, err := h.engagements.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if c.Role != models.RoleAdmin && !e.IsParticipant(c.UserID) {
		return nil, domain.ErrForbidden
	}

	h.mu.Lock()
	members, ok := h.rooms[engagementID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[engagementID] = members
	}
	members[c] = struct{}{}
	if e.Status == models.StatusAccepted {
		h.open[engagementID] = true
	}
	h.mu.Unlock()

	history, err := h.messages.ListByEngagement(ctx, engagementID)
	if err != nil {
		h.Leave(engagementID, c)
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	h.logger.Debug().Str("engagement_id", engagementID).Str("user_id", c.UserID).Msg("client joined room")
	return history, nil
}

func (h *Hub) Leave(engagementID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(engagementID, c)
}

func (h *Hub) leaveLocked(engagementID string, c *Client) {
	members, ok := h.rooms[engagementID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, engagementID)
	}
}

// Remove drops c from every room and closes its outbound queue.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	for id := range h.rooms {
		h.leaveLocked(id, c)
	}
	h.mu.Unlock()
	c.close()
}

// Send persists the message, then delivers it to every member of the room,
// the sender's own connections included.
func (h *Hub) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if h.limiter != nil && h.rateLimit > 0 {
		allowed, err := h.limiter.CheckRateLimit(ctx, "chat:"+in.SenderID, h.rateLimit, h.rateWindow)
		if err != nil {
			h.logger.Warn().Err(err).Str("sender_id", in.SenderID).Msg("rate limit check failed")
		} else if !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	msg, err := h.messages.Append(ctx, models.Message{
		EngagementID: in.EngagementID,
		SenderID:     in.SenderID,
		ReceiverID:   in.ReceiverID,
		SenderType:   in.SenderType,
		Text:         in.Text,
	})
	if err != nil {
		return nil, err
	}

	h.broadcast(in.EngagementID, Frame{Type: FrameMessage, EngagementID: in.EngagementID, Message: msg})
	return msg, nil
}

// Open marks the room available and tells current members.
func (h *Hub) Open(engagementID string) {
	h.mu.Lock()
	h.open[engagementID] = true
	h.mu.Unlock()

	h.broadcast(engagementID, Frame{
		Type:         FrameRoomOpened,
		EngagementID: engagementID,
		Text:         models.AcceptedSystemText,
	})
}

// IsOpen reports whether the room accepts messages.
func (h *Hub) IsOpen(engagementID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.open[engagementID]
}

// Members returns the number of clients joined to a room.
func (h *Hub) Members(engagementID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[engagementID])
}

func (h *Hub) broadcast(engagementID string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("engagement_id", engagementID).Msg("failed to encode frame")
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[engagementID]))
	for c := range h.rooms[engagementID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range members {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		metrics.IncChatDropped()
		h.logger.Warn().
			Str("engagement_id", engagementID).
			Str("user_id", c.UserID).
			Msg("client send buffer full, dropping from live delivery")
		h.Remove(c)
	}
}

// errorText is the message shown to a client for err.
func errorText(err error) string {
	for _, known := range []error{
		domain.ErrNotFound,
		domain.ErrForbidden,
		domain.ErrChatClosed,
		domain.ErrRateLimited,
		domain.ErrValidation,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}

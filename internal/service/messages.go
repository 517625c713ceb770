package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/events"
	"healthmate/internal/metrics"
	"healthmate/internal/models"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
)

// MessageLog is the append-only chat history.
type MessageLog struct {
	store       domain.MessageStore
	engagements domain.EngagementStore
	node        *snowflake.Node
	eventBus    domain.EventPublisher
	logger      *zerolog.Logger
}

func NewMessageLog(store domain.MessageStore, engagements domain.EngagementStore, nodeID int64, eventBus domain.EventPublisher, logger *zerolog.Logger) (*MessageLog, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create message id node: %w", err)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &MessageLog{
		store:       store,
		engagements: engagements,
		node:        node,
		eventBus:    eventBus,
		logger:      logger,
	}, nil
}

// Append validates and persists a participant message. The engagement must be accepted.
func (l *MessageLog) Append(ctx context.Context, msg models.Message) (*models.Message, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return nil, fmt.Errorf("%w: message text is empty", domain.ErrValidation)
	}
	if !models.ValidSenderType(msg.SenderType) || msg.SenderType == models.SenderSystem {
		return nil, fmt.Errorf("%w: invalid sender type %q", domain.ErrValidation, msg.SenderType)
	}

	e, err := l.engagements.GetEngagement(ctx, msg.EngagementID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.StatusAccepted {
		return nil, domain.ErrChatClosed
	}

	switch {
	case msg.SenderType == models.SenderRequester && msg.SenderID == e.RequesterID:
	case msg.SenderType == models.SenderProvider && msg.SenderID == e.ProviderID:
	default:
		return nil, fmt.Errorf("%w: sender is not a participant", domain.ErrForbidden)
	}

	counterpart := e.Counterpart(msg.SenderID)
	if msg.ReceiverID == "" {
		msg.ReceiverID = counterpart
	}
	if msg.ReceiverID != counterpart {
		return nil, fmt.Errorf("%w: receiver must be the other participant", domain.ErrValidation)
	}

	msg.ID = l.node.Generate().Int64()
	msg.CreatedAt = time.Now().UTC()

	if err := l.store.AppendMessage(ctx, &msg); err != nil {
		return nil, err
	}

	metrics.IncChatMessage(msg.SenderType)
	l.publish(&msg)
	return &msg, nil
}

// SeedSystem writes one system message addressed to each participant. It
// reports false when the engagement was already seeded.
func (l *MessageLog) SeedSystem(ctx context.Context, e *models.Engagement, text string) (bool, error) {
	now := time.Now().UTC()
	msgs := []*models.Message{
		{
			ID:           l.node.Generate().Int64(),
			EngagementID: e.ID,
			SenderID:     models.SystemSenderID,
			ReceiverID:   e.RequesterID,
			SenderType:   models.SenderSystem,
			Text:         text,
			CreatedAt:    now,
		},
		{
			ID:           l.node.Generate().Int64(),
			EngagementID: e.ID,
			SenderID:     models.SystemSenderID,
			ReceiverID:   e.ProviderID,
			SenderType:   models.SenderSystem,
			Text:         text,
			CreatedAt:    now,
		},
	}

	written, err := l.store.AppendSystemMessages(ctx, msgs)
	if err != nil || !written {
		return false, err
	}
	metrics.IncChatMessage(models.SenderSystem)
	return true, nil
}

// ListByEngagement returns the history oldest first.
func (l *MessageLog) ListByEngagement(ctx context.Context, engagementID string) ([]*models.Message, error) {
	if _, err := l.engagements.GetEngagement(ctx, engagementID); err != nil {
		return nil, err
	}
	return l.store.ListMessagesByEngagement(ctx, engagementID)
}

func (l *MessageLog) publish(msg *models.Message) {
	if l.eventBus == nil {
		return
	}
	payload := events.MessageEventPayload{
		MessageID:    msg.ID,
		EngagementID: msg.EngagementID,
		SenderID:     msg.SenderID,
		ReceiverID:   msg.ReceiverID,
		SenderType:   msg.SenderType,
		CreatedAt:    msg.CreatedAt,
	}
	if err := l.eventBus.PublishJSON(events.EventMessageSent, payload); err != nil {
		l.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("publish event error")
	}
}

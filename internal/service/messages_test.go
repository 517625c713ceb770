package service

import (
	"context"
	"testing"

	"healthmate/internal/domain"
	"healthmate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLog_Append(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.accepted(t, "pi_msg")

	msg, err := env.messages.Append(ctx, models.Message{
		EngagementID: e.ID,
		SenderID:     "u1",
		SenderType:   models.SenderRequester,
		Text:         "  hello  ",
	})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "p1", msg.ReceiverID)
	assert.Equal(t, "UTC", msg.CreatedAt.Location().String())

	reply, err := env.messages.Append(ctx, models.Message{
		EngagementID: e.ID,
		SenderID:     "p1",
		ReceiverID:   "u1",
		SenderType:   models.SenderProvider,
		Text:         "hi there",
	})
	require.NoError(t, err)
	assert.Greater(t, reply.ID, msg.ID)

	history, err := env.messages.ListByEngagement(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.SenderSystem, history[0].SenderType)
	assert.Equal(t, models.SenderSystem, history[1].SenderType)
	assert.Equal(t, "hello", history[2].Text)
	assert.Equal(t, "hi there", history[3].Text)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
}

func TestMessageLog_AppendRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pending := env.createPending(t, "pi_pending")
	accepted := env.accepted(t, "pi_open")

	tests := []struct {
		name    string
		msg     models.Message
		wantErr error
	}{
		{
			name:    "empty text",
			msg:     models.Message{EngagementID: accepted.ID, SenderID: "u1", SenderType: models.SenderRequester, Text: "   "},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "system sender",
			msg:     models.Message{EngagementID: accepted.ID, SenderID: "u1", SenderType: models.SenderSystem, Text: "x"},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "pending engagement",
			msg:     models.Message{EngagementID: pending.ID, SenderID: "u1", SenderType: models.SenderRequester, Text: "x"},
			wantErr: domain.ErrChatClosed,
		},
		{
			name:    "unknown engagement",
			msg:     models.Message{EngagementID: "missing", SenderID: "u1", SenderType: models.SenderRequester, Text: "x"},
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "outsider",
			msg:     models.Message{EngagementID: accepted.ID, SenderID: "u9", SenderType: models.SenderRequester, Text: "x"},
			wantErr: domain.ErrForbidden,
		},
		{
			name:    "wrong sender type",
			msg:     models.Message{EngagementID: accepted.ID, SenderID: "u1", SenderType: models.SenderProvider, Text: "x"},
			wantErr: domain.ErrForbidden,
		},
		{
			name:    "wrong receiver",
			msg:     models.Message{EngagementID: accepted.ID, SenderID: "u1", ReceiverID: "p9", SenderType: models.SenderRequester, Text: "x"},
			wantErr: domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.messages.Append(ctx, tt.msg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	history, err := env.messages.ListByEngagement(ctx, accepted.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMessageLog_ListUnknown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.messages.ListByEngagement(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewMessageLog_InvalidNode(t *testing.T) {
	_, err := NewMessageLog(nil, nil, -1, nil, nil)
	assert.Error(t, err)
}

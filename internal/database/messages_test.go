package database

import (
	"context"
	"testing"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages_AppendAndList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e1", "pi_1"))
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	system := []*models.Message{
		{ID: 1, EngagementID: "e1", SenderID: models.SystemSenderID, ReceiverID: "u1", SenderType: models.SenderSystem, Text: models.AcceptedSystemText, CreatedAt: base},
		{ID: 2, EngagementID: "e1", SenderID: models.SystemSenderID, ReceiverID: "p1", SenderType: models.SenderSystem, Text: models.AcceptedSystemText, CreatedAt: base},
	}
	written, err := db.AppendSystemMessages(ctx, system)
	require.NoError(t, err)
	require.True(t, written)

	// inserted out of order on purpose
	require.NoError(t, db.AppendMessage(ctx, &models.Message{
		ID: 4, EngagementID: "e1", SenderID: "p1", ReceiverID: "u1", SenderType: models.SenderProvider, Text: "hello", CreatedAt: base.Add(2 * time.Second),
	}))
	require.NoError(t, db.AppendMessage(ctx, &models.Message{
		ID: 3, EngagementID: "e1", SenderID: "u1", ReceiverID: "p1", SenderType: models.SenderRequester, Text: "hi", CreatedAt: base.Add(time.Second),
	}))

	msgs, err := db.ListMessagesByEngagement(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	var ids []int64
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
	assert.Equal(t, models.AcceptedSystemText, msgs[0].Text)
	assert.Equal(t, msgs[0].Text, msgs[1].Text)
	assert.Equal(t, "hello", msgs[3].Text)
}

func TestMessages_EmptyHistory(t *testing.T) {
	db := setupTestDB(t)

	msgs, err := db.ListMessagesByEngagement(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestAppendSystemMessages_AllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e1", "pi_1"))
	require.NoError(t, err)

	written, err := db.AppendSystemMessages(ctx, []*models.Message{
		{ID: 1, EngagementID: "e1", SenderID: models.SystemSenderID, ReceiverID: "u1", SenderType: models.SenderSystem, Text: "a"},
		{ID: 2, EngagementID: "e1", SenderID: "u1", ReceiverID: "p1", SenderType: models.SenderRequester, Text: "b"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, written)

	msgs, err := db.ListMessagesByEngagement(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAppendSystemMessages_OncePerEngagement(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e1", "pi_1"))
	require.NoError(t, err)

	seed := func(firstID int64) (bool, error) {
		return db.AppendSystemMessages(ctx, []*models.Message{
			{ID: firstID, EngagementID: "e1", SenderID: models.SystemSenderID, ReceiverID: "u1", SenderType: models.SenderSystem, Text: models.AcceptedSystemText},
			{ID: firstID + 1, EngagementID: "e1", SenderID: models.SystemSenderID, ReceiverID: "p1", SenderType: models.SenderSystem, Text: models.AcceptedSystemText},
		})
	}

	written, err := seed(1)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = seed(10)
	require.NoError(t, err)
	assert.False(t, written)

	msgs, err := db.ListMessagesByEngagement(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestListAcceptedWithoutChat(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := db.CreateEngagementIfAbsent(ctx, newPendingEngagement(id, "pi_"+id))
		require.NoError(t, err)
	}
	require.NoError(t, db.TransitionEngagement(ctx, "e1", models.StatusAccepted))
	require.NoError(t, db.TransitionEngagement(ctx, "e2", models.StatusAccepted))
	require.NoError(t, db.TransitionEngagement(ctx, "e3", models.StatusRejected))

	_, err := db.AppendSystemMessages(ctx, []*models.Message{
		{ID: 1, EngagementID: "e1", SenderID: models.SystemSenderID, ReceiverID: "u1", SenderType: models.SenderSystem, Text: models.AcceptedSystemText},
	})
	require.NoError(t, err)

	waiting, err := db.ListAcceptedWithoutChat(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "e2", waiting[0].ID)
}

func TestAppendMessage_UnknownEngagement(t *testing.T) {
	db := setupTestDB(t)

	err := db.AppendMessage(context.Background(), &models.Message{
		ID: 1, EngagementID: "ghost", SenderID: "u1", ReceiverID: "p1", SenderType: models.SenderRequester, Text: "hi",
	})
	assert.Error(t, err)
}

func TestRecordWebhookEvent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ev := &models.WebhookEvent{
		Provider:        "stripe",
		EventID:         "evt_1",
		EventType:       "checkout.session.completed",
		PaymentIntentID: "pi_1",
		Outcome:         models.WebhookOutcomeCreated,
	}
	require.NoError(t, db.RecordWebhookEvent(ctx, ev))

	redelivery := *ev
	redelivery.Outcome = models.WebhookOutcomeDuplicate
	require.NoError(t, db.RecordWebhookEvent(ctx, &redelivery))

	got, err := db.GetWebhookEvent(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Deliveries)
	assert.Equal(t, models.WebhookOutcomeCreated, got.Outcome)
	assert.Equal(t, "pi_1", got.PaymentIntentID)
}

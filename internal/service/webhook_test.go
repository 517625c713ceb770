package service

import (
	"context"
	"testing"

	"healthmate/internal/domain"
	"healthmate/internal/gateway"
	"healthmate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutFixture(eventID, paymentIntent string) gateway.CheckoutEventFixture {
	return gateway.CheckoutEventFixture{
		EventID:         eventID,
		SessionID:       "cs_" + eventID,
		PaymentIntentID: paymentIntent,
		RequesterID:     "u1",
		ProviderID:      "p1",
		Goal:            "weight loss",
		Duration:        30,
		AmountTotal:     100000,
	}
}

func deliver(t *testing.T, env *testEnv, payload []byte) (*IntakeResult, error) {
	t.Helper()
	return env.intake.Handle(context.Background(), payload, gateway.SignPayload(payload, testWebhookSecret))
}

func TestIntake_CreatesEngagement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := deliver(t, env, gateway.BuildCheckoutEvent(checkoutFixture("evt_1", "pi_123")))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeCreated, res.Outcome)
	require.NotNil(t, res.Engagement)

	e := res.Engagement
	assert.Equal(t, models.StatusPending, e.Status)
	assert.True(t, e.IsPaid)
	assert.Equal(t, "u1", e.RequesterID)
	assert.Equal(t, "p1", e.ProviderID)
	assert.Equal(t, 30, e.Duration)
	assert.Equal(t, models.Money(100000), e.TotalAmount)
	assert.Equal(t, models.Money(15000), e.PlatformFee)
	assert.Equal(t, models.Money(85000), e.ProviderIncome)
	assert.Equal(t, "cs_evt_1", e.CheckoutSessionID)

	audit, err := env.db.GetWebhookEvent(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeCreated, audit.Outcome)
	assert.Equal(t, e.ID, audit.EngagementID)
	assert.Equal(t, 1, audit.Deliveries)
}

func TestIntake_Redelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payload := gateway.BuildCheckoutEvent(checkoutFixture("evt_1", "pi_123"))

	first, err := deliver(t, env, payload)
	require.NoError(t, err)

	again, err := deliver(t, env, payload)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, again.Outcome)
	require.NotNil(t, again.Engagement)
	assert.Equal(t, first.Engagement.ID, again.Engagement.ID)

	// new event id, same payment intent
	other, err := deliver(t, env, gateway.BuildCheckoutEvent(checkoutFixture("evt_2", "pi_123")))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, other.Outcome)
	assert.Equal(t, first.Engagement.ID, other.Engagement.ID)

	all, err := env.ledger.ListAll(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	audit, err := env.db.GetWebhookEvent(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 2, audit.Deliveries)
	assert.Equal(t, models.WebhookOutcomeCreated, audit.Outcome)
}

func TestIntake_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := gateway.BuildCheckoutEvent(checkoutFixture("evt_1", "pi_123"))

	res, err := env.intake.Handle(context.Background(), payload, gateway.SignPayload(payload, "whsec_wrong"))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Nil(t, res)

	res, err = env.intake.Handle(context.Background(), payload, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Nil(t, res)

	all, err := env.ledger.ListAll(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIntake_IgnoresOtherEvents(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id":"evt_other","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)

	res, err := deliver(t, env, payload)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeIgnored, res.Outcome)
	assert.Nil(t, res.Engagement)

	audit, err := env.db.GetWebhookEvent(context.Background(), "stripe", "evt_other")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeIgnored, audit.Outcome)
}

func TestIntake_InvalidMetadata(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *gateway.CheckoutEventFixture)
	}{
		{"missing provider", func(f *gateway.CheckoutEventFixture) { f.ProviderID = "" }},
		{"missing goal", func(f *gateway.CheckoutEventFixture) { f.Goal = "" }},
		{"missing duration", func(f *gateway.CheckoutEventFixture) { f.Duration = 0 }},
		{"missing requester", func(f *gateway.CheckoutEventFixture) { f.RequesterID = "" }},
		{"zero amount", func(f *gateway.CheckoutEventFixture) { f.AmountTotal = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			f := checkoutFixture("evt_bad", "pi_bad")
			tt.mutate(&f)

			res, err := deliver(t, env, gateway.BuildCheckoutEvent(f))
			assert.ErrorIs(t, err, domain.ErrValidation)
			require.NotNil(t, res)
			assert.Equal(t, models.WebhookOutcomeInvalid, res.Outcome)

			_, err = env.ledger.GetByPaymentIntent(context.Background(), "pi_bad")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestIntake_UndecodableEventIsJournaled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	garbled := []byte(`{"id":"evt_garbled","object":"event","type":"checkout.session.completed","data":{"object":{"id":123}}}`)
	res, err := deliver(t, env, garbled)
	assert.ErrorIs(t, err, domain.ErrValidation)
	require.NotNil(t, res)
	assert.Equal(t, models.WebhookOutcomeInvalid, res.Outcome)
	assert.Equal(t, "evt_garbled", res.EventID)

	audit, err := env.db.GetWebhookEvent(ctx, "stripe", "evt_garbled")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeInvalid, audit.Outcome)
	assert.Equal(t, "checkout.session.completed", audit.EventType)

	anonymous := []byte(`{"object":"event","type":"checkout.session.completed"}`)
	res, err = deliver(t, env, anonymous)
	assert.ErrorIs(t, err, domain.ErrValidation)
	require.NotNil(t, res)
	assert.Equal(t, payloadDigest(anonymous), res.EventID)

	audit, err = env.db.GetWebhookEvent(ctx, "stripe", payloadDigest(anonymous))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeInvalid, audit.Outcome)

	all, err := env.ledger.ListAll(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIntake_AcceptedFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := deliver(t, env, gateway.BuildCheckoutEvent(checkoutFixture("evt_flow", "pi_flow")))
	require.NoError(t, err)

	decided, err := env.decisions.Decide(ctx, res.Engagement.ID, models.DecisionAccept, provider)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, decided.Engagement.Status)

	_, err = env.messages.Append(ctx, models.Message{
		EngagementID: res.Engagement.ID,
		SenderID:     "u1",
		SenderType:   models.SenderRequester,
		Text:         "hello",
	})
	require.NoError(t, err)

	history, err := env.messages.ListByEngagement(ctx, res.Engagement.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "hello", history[2].Text)
}

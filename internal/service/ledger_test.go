package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/events"
	"healthmate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_CreateComputesFees(t *testing.T) {
	env := newTestEnv(t)

	var published []events.EngagementEventPayload
	env.bus.Subscribe(events.EventEngagementCreated, func(ev *events.Event) error {
		var p events.EngagementEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		published = append(published, p)
		return nil
	})

	e := env.createPending(t, "pi_fee")

	assert.Equal(t, 1000.0, e.TotalAmount.Major())
	assert.Equal(t, 150.0, e.PlatformFee.Major())
	assert.Equal(t, 850.0, e.ProviderIncome.Major())
	assert.Equal(t, models.StatusPending, e.Status)
	assert.True(t, e.IsPaid)
	assert.NotNil(t, e.PaidAt)
	assert.Equal(t, models.DefaultCurrency, e.Currency)

	require.Len(t, published, 1)
	assert.Equal(t, e.ID, published[0].EngagementID)
	assert.Equal(t, 1, env.worker.count(models.TaskMirrorUpsert))
}

func TestLedger_CreateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := env.createPending(t, "pi_dup")

	again, created, err := env.ledger.Create(context.Background(), CreateEngagementInput{
		RequesterID:     "someone-else",
		ProviderID:      "p9",
		Goal:            "other",
		Duration:        7,
		Total:           500,
		PaymentIntentID: "pi_dup",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "u1", again.RequesterID)

	all, err := env.ledger.ListAll(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLedger_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	valid := CreateEngagementInput{RequesterID: "u1", ProviderID: "p1", Goal: "g", Duration: 1, Total: 100, PaymentIntentID: "pi"}

	tests := []struct {
		name   string
		mutate func(in *CreateEngagementInput)
	}{
		{name: "missing requester", mutate: func(in *CreateEngagementInput) { in.RequesterID = "" }},
		{name: "missing provider", mutate: func(in *CreateEngagementInput) { in.ProviderID = " " }},
		{name: "missing goal", mutate: func(in *CreateEngagementInput) { in.Goal = "" }},
		{name: "missing payment intent", mutate: func(in *CreateEngagementInput) { in.PaymentIntentID = "" }},
		{name: "zero duration", mutate: func(in *CreateEngagementInput) { in.Duration = 0 }},
		{name: "zero total", mutate: func(in *CreateEngagementInput) { in.Total = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, _, err := env.ledger.Create(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestLedger_Transition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.createPending(t, "pi_tr")

	_, err := env.ledger.Transition(ctx, e.ID, "maybe")
	assert.ErrorIs(t, err, domain.ErrValidation)

	updated, err := env.ledger.Transition(ctx, e.ID, models.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, updated.Status)
	assert.True(t, updated.IsPaid, "transition alone does not refund")

	_, err = env.ledger.Transition(ctx, e.ID, models.DecisionAccept)
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)

	_, err = env.ledger.Transition(ctx, "missing", models.DecisionAccept)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_Listings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.createPending(t, "pi_a")
	accepted := env.accepted(t, "pi_b")

	got, err := env.ledger.ListPendingForProvider(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)

	got, err = env.ledger.ListAcceptedForProvider(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, accepted.ID, got[0].ID)

	got, err = env.ledger.ListAcceptedForRequester(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = env.ledger.ListAll(ctx, "bogus", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)

	now := time.Now().UTC()
	got, err = env.ledger.ListByCreatedRange(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = env.ledger.ListByCreatedRange(ctx, now, now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

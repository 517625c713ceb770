package service

import (
	"context"
	"sync"
	"testing"

	"healthmate/internal/database"
	"healthmate/internal/events"
	"healthmate/internal/gateway"
	"healthmate/internal/models"
	"healthmate/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_service_test"

type recordingWorker struct {
	mu    sync.Mutex
	tasks []string
}

func (w *recordingWorker) EnqueueTask(_ context.Context, taskType, engagementID string, _ interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, taskType+":"+engagementID)
	return nil
}

func (w *recordingWorker) count(taskType string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, t := range w.tasks {
		if len(t) > len(taskType) && t[:len(taskType)+1] == taskType+":" {
			n++
		}
	}
	return n
}

type recordingRooms struct {
	mu     sync.Mutex
	opened []string
}

func (r *recordingRooms) Open(engagementID string) {
	r.mu.Lock()
	r.opened = append(r.opened, engagementID)
	r.mu.Unlock()
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyOperators(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

type testEnv struct {
	db        *database.DB
	bus       *events.EventBus
	worker    *recordingWorker
	rooms     *recordingRooms
	gw        *gateway.FakeGateway
	notifier  *mockNotifier
	ledger    *Ledger
	messages  *MessageLog
	decisions *DecisionProcessor
	intake    *Intake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		db:       db,
		bus:      events.NewEventBus(),
		worker:   &recordingWorker{},
		rooms:    &recordingRooms{},
		gw:       gateway.NewFakeGateway(testWebhookSecret),
		notifier: new(mockNotifier),
	}

	env.ledger = NewLedger(db, env.bus, env.worker, &logger)
	env.messages, err = NewMessageLog(db, db, 1, env.bus, &logger)
	require.NoError(t, err)
	env.decisions = NewDecisionProcessor(env.ledger, env.messages, env.rooms, env.gw, &logger,
		WithNotifier(env.notifier), WithRefundRetry(env.worker))
	env.intake = NewIntake(env.gw, env.ledger, db, repository.NewMemorySeenStore(), "stripe", &logger)
	return env
}

func (env *testEnv) createPending(t *testing.T, paymentIntent string) *models.Engagement {
	t.Helper()
	e, created, err := env.ledger.Create(context.Background(), CreateEngagementInput{
		RequesterID:     "u1",
		ProviderID:      "p1",
		Goal:            "weight loss",
		Duration:        30,
		Total:           models.MoneyFromMajor(1000),
		PaymentIntentID: paymentIntent,
	})
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func (env *testEnv) accepted(t *testing.T, paymentIntent string) *models.Engagement {
	t.Helper()
	e := env.createPending(t, paymentIntent)
	res, err := env.decisions.Decide(context.Background(), e.ID, models.DecisionAccept, Actor{UserID: "p1", Role: models.RoleProvider})
	require.NoError(t, err)
	return res.Engagement
}

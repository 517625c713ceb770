package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/events"
	"healthmate/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateEngagementInput carries the verified values of a settled checkout.
type CreateEngagementInput struct {
	RequesterID       string
	ProviderID        string
	Goal              string
	Duration          int
	Total             models.Money
	Currency          string
	PaymentIntentID   string
	CheckoutSessionID string
	PaidAt            time.Time
}

func (in CreateEngagementInput) validate() error {
	var missing []string
	if strings.TrimSpace(in.RequesterID) == "" {
		missing = append(missing, "requester")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		missing = append(missing, "provider")
	}
	if strings.TrimSpace(in.Goal) == "" {
		missing = append(missing, "goal")
	}
	if strings.TrimSpace(in.PaymentIntentID) == "" {
		missing = append(missing, "payment intent")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if in.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", domain.ErrValidation)
	}
	if in.Total <= 0 {
		return fmt.Errorf("%w: total must be positive", domain.ErrValidation)
	}
	return nil
}

// Ledger owns the engagement state machine.
type Ledger struct {
	store      domain.EngagementStore
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	logger     *zerolog.Logger
}

func NewLedger(store domain.EngagementStore, eventBus domain.EventPublisher, syncWorker domain.SyncWorker, logger *zerolog.Logger) *Ledger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Ledger{
		store:      store,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		logger:     logger,
	}
}

// Create records a paid engagement unless one already exists for the payment
// intent, in which case the existing entry is returned with created=false.
func (l *Ledger) Create(ctx context.Context, in CreateEngagementInput) (*models.Engagement, bool, error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	paidAt := in.PaidAt.UTC()
	if in.PaidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = models.DefaultCurrency
	}
	fee, income := models.SplitFee(in.Total)

	e := &models.Engagement{
		ID:                uuid.NewString(),
		RequesterID:       in.RequesterID,
		ProviderID:        in.ProviderID,
		Goal:              in.Goal,
		Duration:          in.Duration,
		TotalAmount:       in.Total,
		PlatformFee:       fee,
		ProviderIncome:    income,
		Currency:          currency,
		IsPaid:            true,
		PaidAt:            &paidAt,
		PaymentIntentID:   in.PaymentIntentID,
		CheckoutSessionID: in.CheckoutSessionID,
		Status:            models.StatusPending,
	}

	created, err := l.store.CreateEngagementIfAbsent(ctx, e)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := l.store.GetEngagementByPaymentIntent(ctx, in.PaymentIntentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	l.logger.Info().
		Str("engagement_id", e.ID).
		Str("payment_intent", e.PaymentIntentID).
		Str("provider_id", e.ProviderID).
		Msg("engagement created")
	l.publish(events.EventEngagementCreated, e, "", "")
	l.enqueueMirror(ctx, e)

	return e, true, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Engagement, error) {
	return l.store.GetEngagement(ctx, id)
}

func (l *Ledger) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Engagement, error) {
	return l.store.GetEngagementByPaymentIntent(ctx, paymentIntentID)
}

// Transition applies decision to a pending engagement. It has no side effects
// beyond the state change and the ledger mirror.
func (l *Ledger) Transition(ctx context.Context, id, decision string) (*models.Engagement, error) {
	var to string
	switch decision {
	case models.DecisionAccept:
		to = models.StatusAccepted
	case models.DecisionReject:
		to = models.StatusRejected
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrValidation, decision)
	}

	if err := l.store.TransitionEngagement(ctx, id, to); err != nil {
		return nil, err
	}

	e, err := l.store.GetEngagement(ctx, id)
	if err != nil {
		return nil, err
	}
	l.enqueueMirror(ctx, e)
	return e, nil
}

func (l *Ledger) MarkRefunded(ctx context.Context, id string) (*models.Engagement, error) {
	if err := l.store.MarkEngagementRefunded(ctx, id); err != nil {
		return nil, err
	}
	e, err := l.store.GetEngagement(ctx, id)
	if err != nil {
		return nil, err
	}
	l.enqueueMirror(ctx, e)
	return e, nil
}

func (l *Ledger) RecordRefundFailure(ctx context.Context, id, reason string) error {
	return l.store.RecordRefundFailure(ctx, id, reason)
}

func (l *Ledger) ListPendingForProvider(ctx context.Context, providerID string) ([]*models.Engagement, error) {
	return l.store.ListEngagementsByProvider(ctx, providerID, models.StatusPending)
}

func (l *Ledger) ListAcceptedForProvider(ctx context.Context, providerID string) ([]*models.Engagement, error) {
	return l.store.ListEngagementsByProvider(ctx, providerID, models.StatusAccepted)
}

func (l *Ledger) ListAcceptedForRequester(ctx context.Context, requesterID string) ([]*models.Engagement, error) {
	return l.store.ListEngagementsByRequester(ctx, requesterID, models.StatusAccepted)
}

func (l *Ledger) ListAll(ctx context.Context, status string, limit int) ([]*models.Engagement, error) {
	switch status {
	case "", models.StatusPending, models.StatusAccepted, models.StatusRejected:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return l.store.ListEngagements(ctx, status, limit)
}

func (l *Ledger) ListUnrefunded(ctx context.Context) ([]*models.Engagement, error) {
	return l.store.ListUnrefundedEngagements(ctx)
}

// ListAwaitingChat returns accepted engagements whose chat was never opened.
func (l *Ledger) ListAwaitingChat(ctx context.Context) ([]*models.Engagement, error) {
	return l.store.ListAcceptedWithoutChat(ctx)
}

func (l *Ledger) ListByCreatedRange(ctx context.Context, start, end time.Time) ([]*models.Engagement, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", domain.ErrValidation)
	}
	return l.store.ListEngagementsByCreatedRange(ctx, start, end)
}

func (l *Ledger) publish(eventType string, e *models.Engagement, changedBy, reason string) {
	if l.eventBus == nil {
		return
	}

	payload := events.EngagementEventPayload{
		EngagementID:    e.ID,
		RequesterID:     e.RequesterID,
		ProviderID:      e.ProviderID,
		Status:          e.Status,
		IsPaid:          e.IsPaid,
		TotalAmount:     int64(e.TotalAmount),
		Currency:        e.Currency,
		PaymentIntentID: e.PaymentIntentID,
		Reason:          reason,
		ChangedBy:       changedBy,
		OccurredAt:      time.Now().UTC(),
	}

	if err := l.eventBus.PublishJSON(eventType, payload); err != nil {
		l.logger.Error().Err(err).Str("event_type", eventType).Str("engagement_id", e.ID).Msg("publish event error")
	}
}

func (l *Ledger) enqueueMirror(ctx context.Context, e *models.Engagement) {
	if l.syncWorker == nil {
		return
	}
	if err := l.syncWorker.EnqueueTask(ctx, models.TaskMirrorUpsert, e.ID, e); err != nil {
		l.logger.Error().Err(err).Str("engagement_id", e.ID).Msg("ledger mirror enqueue error")
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	"healthmate/internal/domain"
	"healthmate/internal/events"
	"healthmate/internal/gateway"
	"healthmate/internal/metrics"
	"healthmate/internal/models"
	"healthmate/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Refunder returns a captured payment.
type Refunder interface {
	Refund(ctx context.Context, paymentIntentID string) (*gateway.RefundResult, error)
}

// Actor is the authenticated caller of a decision.
type Actor struct {
	UserID string
	Role   string
}

type DecisionResult struct {
	Engagement    *models.Engagement `json:"engagement"`
	SystemMessage string             `json:"system_message,omitempty"`
	Warning       string             `json:"warning,omitempty"`
}

// DecisionProcessor applies provider decisions and runs their side effects.
type DecisionProcessor struct {
	ledger     *Ledger
	messages   *MessageLog
	rooms      domain.RoomOpener
	refunder   Refunder
	notifier   domain.Notifier
	syncWorker domain.SyncWorker
	autoRetry  bool
	logger     *zerolog.Logger
}

type DecisionOption func(*DecisionProcessor)

// WithSyncWorker schedules follow-up tasks for side effects that fail after
// a decision committed.
func WithSyncWorker(worker domain.SyncWorker) DecisionOption {
	return func(p *DecisionProcessor) { p.syncWorker = worker }
}

// WithRefundRetry enqueues a refund_retry task whenever a refund fails.
func WithRefundRetry(worker domain.SyncWorker) DecisionOption {
	return func(p *DecisionProcessor) {
		p.syncWorker = worker
		p.autoRetry = worker != nil
	}
}

func WithNotifier(n domain.Notifier) DecisionOption {
	return func(p *DecisionProcessor) { p.notifier = n }
}

func NewDecisionProcessor(
	ledger *Ledger,
	messages *MessageLog,
	rooms domain.RoomOpener,
	refunder Refunder,
	logger *zerolog.Logger,
	opts ...DecisionOption,
) *DecisionProcessor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	p := &DecisionProcessor{
		ledger:   ledger,
		messages: messages,
		rooms:    rooms,
		refunder: refunder,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide accepts or rejects a pending engagement. Once the transition commits
// the result is always returned: with an error wrapping domain.ErrRefundFailed
// on a failed refund, or domain.ErrFollowUpPending when a side effect was
// scheduled for another attempt.
func (p *DecisionProcessor) Decide(ctx context.Context, engagementID, decision string, actor Actor) (*DecisionResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "engagement.decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("engagement.id", engagementID),
		attribute.String("engagement.decision", decision),
	)

	if decision != models.DecisionAccept && decision != models.DecisionReject {
		return nil, fmt.Errorf("%w: decision must be accept or reject", domain.ErrValidation)
	}

	current, err := p.ledger.Get(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.UserID != current.ProviderID {
		return nil, domain.ErrForbidden
	}

	e, err := p.ledger.Transition(ctx, engagementID, decision)
	if err != nil {
		metrics.IncDecision(decision, resultLabel(err))
		return nil, err
	}
	metrics.IncDecision(decision, "ok")

	p.logger.Info().
		Str("engagement_id", e.ID).
		Str("decision", decision).
		Str("actor", actor.UserID).
		Msg("engagement decided")

	if decision == models.DecisionAccept {
		return p.accept(ctx, e, actor)
	}

	p.ledger.publish(events.EventEngagementRejected, e, actor.UserID, "")
	refunded, err := p.refund(ctx, e, p.autoRetry)
	switch {
	case errors.Is(err, domain.ErrFollowUpPending):
		return &DecisionResult{
			Engagement: refunded,
			Warning:    "The booking was rejected and refunded. The booking record will reflect the refund shortly.",
		}, err
	case err != nil:
		span.SetStatus(codes.Error, "refund failed")
		return &DecisionResult{
			Engagement: refunded,
			Warning:    "The booking was rejected but the refund did not go through. An operator has been notified.",
		}, err
	}
	return &DecisionResult{Engagement: refunded}, nil
}

func (p *DecisionProcessor) accept(ctx context.Context, e *models.Engagement, actor Actor) (*DecisionResult, error) {
	if err := p.openChat(ctx, e, actor.UserID); err != nil {
		p.logger.Error().Err(err).Str("engagement_id", e.ID).Msg("failed to seed system messages")
		p.followUp(ctx, models.TaskSeedSystem, e, true,
			fmt.Sprintf("Chat setup failed for accepted engagement %s: %v", e.ID, err))
		return &DecisionResult{
			Engagement: e,
			Warning:    "The booking was accepted but the chat is not ready yet. It will be opened shortly.",
		}, fmt.Errorf("%w: failed to seed system messages: %v", domain.ErrFollowUpPending, err)
	}
	return &DecisionResult{Engagement: e, SystemMessage: models.AcceptedSystemText}, nil
}

// openChat seeds the system messages unless they exist already, then opens
// the room. The accepted event is published by the call that seeds.
func (p *DecisionProcessor) openChat(ctx context.Context, e *models.Engagement, changedBy string) error {
	seeded, err := p.messages.SeedSystem(ctx, e, models.AcceptedSystemText)
	if err != nil {
		return err
	}
	if p.rooms != nil {
		p.rooms.Open(e.ID)
	}
	if seeded {
		p.ledger.publish(events.EventEngagementAccepted, e, changedBy, "")
	}
	return nil
}

// CompleteAcceptance finishes the chat bootstrap of an accepted engagement.
// It is safe to call any number of times.
func (p *DecisionProcessor) CompleteAcceptance(ctx context.Context, engagementID string) (*models.Engagement, error) {
	e, err := p.ledger.Get(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.StatusAccepted {
		return nil, fmt.Errorf("%w: engagement %s is %s", domain.ErrValidation, e.ID, e.Status)
	}
	if err := p.openChat(ctx, e, ""); err != nil {
		return nil, fmt.Errorf("failed to seed system messages: %w", err)
	}
	return e, nil
}

// followUp alerts operators and, when asked and a worker is configured,
// schedules taskType.
func (p *DecisionProcessor) followUp(ctx context.Context, taskType string, e *models.Engagement, enqueue bool, alert string) {
	bg := context.WithoutCancel(ctx)
	if p.notifier != nil {
		if err := p.notifier.NotifyOperators(bg, alert); err != nil {
			p.logger.Warn().Err(err).Str("engagement_id", e.ID).Msg("failed to notify operators")
		}
	}
	if enqueue && p.syncWorker != nil {
		if err := p.syncWorker.EnqueueTask(bg, taskType, e.ID, nil); err != nil {
			p.logger.Error().Err(err).Str("engagement_id", e.ID).Str("task_type", taskType).Msg("failed to enqueue follow-up task")
		}
	}
}

// RetryRefund attempts the refund of a rejected engagement again. An
// engagement whose refund is already confirmed is returned unchanged.
func (p *DecisionProcessor) RetryRefund(ctx context.Context, engagementID string) (*models.Engagement, error) {
	e, err := p.ledger.Get(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.StatusRejected {
		return nil, fmt.Errorf("%w: engagement %s is %s", domain.ErrValidation, e.ID, e.Status)
	}
	if !e.NeedsRefund() {
		return e, nil
	}
	if e.RefundedAtGateway() {
		return p.settleRefund(ctx, e)
	}
	return p.refund(ctx, e, false)
}

// refund returns the latest engagement state in every case.
func (p *DecisionProcessor) refund(ctx context.Context, e *models.Engagement, enqueueRetry bool) (*models.Engagement, error) {
	result, err := p.refunder.Refund(ctx, e.PaymentIntentID)
	if err != nil {
		if !errors.Is(err, domain.ErrRefundFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrRefundFailed, err)
		}
		return p.refundFailed(ctx, e, err, enqueueRetry), err
	}
	metrics.IncRefund("succeeded")

	updated, markErr := p.ledger.MarkRefunded(ctx, e.ID)
	if markErr != nil {
		return p.ledgerBehindGateway(ctx, e, result, markErr, enqueueRetry), fmt.Errorf("%w: refund issued but ledger update failed: %v",
			domain.ErrFollowUpPending, markErr)
	}

	p.logger.Info().Str("engagement_id", e.ID).Str("payment_intent", e.PaymentIntentID).Msg("refund succeeded")
	p.ledger.publish(events.EventRefundSucceeded, updated, "", "")
	return updated, nil
}

// settleRefund clears the payment flags of an engagement whose refund the
// gateway already confirmed.
func (p *DecisionProcessor) settleRefund(ctx context.Context, e *models.Engagement) (*models.Engagement, error) {
	updated, err := p.ledger.MarkRefunded(ctx, e.ID)
	if err != nil {
		return e, fmt.Errorf("failed to mark engagement refunded: %w", err)
	}
	p.logger.Info().Str("engagement_id", e.ID).Msg("ledger reconciled with confirmed refund")
	p.ledger.publish(events.EventRefundSucceeded, updated, "", "")
	return updated, nil
}

// ledgerBehindGateway marks the row so later retries settle it instead of
// refunding a second time.
func (p *DecisionProcessor) ledgerBehindGateway(
	ctx context.Context,
	e *models.Engagement,
	result *gateway.RefundResult,
	cause error,
	enqueueRetry bool,
) *models.Engagement {
	refundID := ""
	if result != nil {
		refundID = result.ID
	}
	p.logger.Error().Err(cause).
		Str("engagement_id", e.ID).
		Str("payment_intent", e.PaymentIntentID).
		Str("refund_id", refundID).
		Msg("refund succeeded but ledger update failed")

	bg := context.WithoutCancel(ctx)
	marker := models.RefundLedgerPending + ": " + refundID
	if err := p.ledger.RecordRefundFailure(bg, e.ID, marker); err != nil {
		p.logger.Error().Err(err).Str("engagement_id", e.ID).Msg("failed to record refund marker")
	}
	p.followUp(ctx, models.TaskRefundRetry, e, enqueueRetry,
		fmt.Sprintf("Refund %s for engagement %s went through but the ledger was not updated: %v", refundID, e.ID, cause))

	if latest, err := p.ledger.Get(bg, e.ID); err == nil {
		return latest
	}
	return e
}

func (p *DecisionProcessor) refundFailed(ctx context.Context, e *models.Engagement, cause error, enqueueRetry bool) *models.Engagement {
	metrics.IncRefund("failed")
	p.logger.Error().Err(cause).
		Str("engagement_id", e.ID).
		Str("payment_intent", e.PaymentIntentID).
		Msg("refund failed, engagement remains paid")

	// the caller's context may already be past its deadline
	bg := context.WithoutCancel(ctx)

	if err := p.ledger.RecordRefundFailure(bg, e.ID, cause.Error()); err != nil {
		p.logger.Error().Err(err).Str("engagement_id", e.ID).Msg("failed to record refund failure")
	}

	p.followUp(ctx, models.TaskRefundRetry, e, enqueueRetry,
		fmt.Sprintf("Refund failed for engagement %s (payment intent %s): %v", e.ID, e.PaymentIntentID, cause))

	p.ledger.publish(events.EventRefundFailed, e, "", cause.Error())

	if latest, err := p.ledger.Get(bg, e.ID); err == nil {
		return latest
	}
	return e
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyDecided):
		return "already_decided"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

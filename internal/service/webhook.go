package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/gateway"
	"healthmate/internal/metrics"
	"healthmate/internal/models"
	"healthmate/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WebhookVerifier authenticates a raw gateway delivery. A verified delivery
// that cannot be decoded may still come back with its identifiers.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (*models.CheckoutCompleted, error)
}

type IntakeResult struct {
	EventID    string
	EventType  string
	Outcome    string
	Engagement *models.Engagement
}

// Intake turns verified checkout webhooks into ledger entries, once per payment intent.
type Intake struct {
	verifier WebhookVerifier
	ledger   *Ledger
	audit    domain.WebhookEventStore
	seen     domain.SeenStore
	dedupTTL time.Duration
	provider string
	logger   *zerolog.Logger
}

func NewIntake(
	verifier WebhookVerifier,
	ledger *Ledger,
	audit domain.WebhookEventStore,
	seen domain.SeenStore,
	provider string,
	logger *zerolog.Logger,
) *Intake {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Intake{
		verifier: verifier,
		ledger:   ledger,
		audit:    audit,
		seen:     seen,
		dedupTTL: time.Duration(models.DefaultEventDedupTTL) * time.Second,
		provider: provider,
		logger:   logger,
	}
}

// Handle verifies payload against signature and records the engagement.
// It returns domain.ErrInvalidSignature for unauthenticated deliveries and
// domain.ErrValidation, together with an "invalid" result, when the verified
// event cannot describe an engagement.
func (in *Intake) Handle(ctx context.Context, payload []byte, signature string) (*IntakeResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "webhook.handle")
	defer span.End()

	ev, err := in.verifier.ParseWebhook(payload, signature)
	if err != nil {
		if gateway.IsSignatureError(err) {
			metrics.IncWebhook("invalid_signature")
			in.logger.Warn().Err(err).Msg("rejected webhook with invalid signature")
			span.SetStatus(codes.Error, "invalid signature")
			return nil, err
		}
		// signed but undecodable
		if ev == nil || ev.EventID == "" {
			ev = &models.CheckoutCompleted{EventID: payloadDigest(payload), EventType: unknownEventType}
		}
		res := &IntakeResult{EventID: ev.EventID, EventType: ev.EventType, Outcome: models.WebhookOutcomeInvalid}
		in.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("verified webhook could not be decoded")
		in.finish(ctx, ev, res)
		span.SetStatus(codes.Error, "undecodable event")
		return res, err
	}

	res := &IntakeResult{EventID: ev.EventID, EventType: ev.EventType}
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.EventID),
		attribute.String("webhook.event_type", ev.EventType),
	)

	if ev.EventType != gateway.EventCheckoutCompleted {
		res.Outcome = models.WebhookOutcomeIgnored
		in.finish(ctx, ev, res)
		return res, nil
	}

	seenKey := in.provider + ":" + ev.EventID
	if in.seen != nil && ev.EventID != "" {
		first, err := in.seen.MarkSeen(ctx, seenKey, in.dedupTTL)
		if err != nil {
			in.logger.Warn().Err(err).Str("event_id", ev.EventID).Msg("event dedup check failed, relying on ledger constraint")
		} else if !first {
			res.Outcome = models.WebhookOutcomeDuplicate
			if existing, err := in.ledger.GetByPaymentIntent(ctx, ev.PaymentIntentID); err == nil {
				res.Engagement = existing
				in.finish(ctx, ev, res)
				return res, nil
			}
			// marked but never committed; fall through to the ledger
			res.Outcome = ""
		}
	}

	input, err := checkoutInput(ev)
	if err != nil {
		res.Outcome = models.WebhookOutcomeInvalid
		in.logger.Error().Err(err).
			Str("event_id", ev.EventID).
			Str("payment_intent", ev.PaymentIntentID).
			Msg("checkout event cannot be turned into an engagement")
		in.finish(ctx, ev, res)
		span.SetStatus(codes.Error, "invalid checkout event")
		return res, err
	}

	e, created, err := in.ledger.Create(ctx, input)
	if err != nil {
		if in.seen != nil {
			if ferr := in.seen.Forget(ctx, seenKey); ferr != nil {
				in.logger.Warn().Err(ferr).Str("event_id", ev.EventID).Msg("failed to clear dedup mark")
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger create failed")
		return nil, fmt.Errorf("failed to record engagement: %w", err)
	}

	res.Engagement = e
	res.Outcome = models.WebhookOutcomeDuplicate
	if created {
		res.Outcome = models.WebhookOutcomeCreated
	}
	span.SetAttributes(attribute.String("engagement.id", e.ID))
	in.finish(ctx, ev, res)
	return res, nil
}

func (in *Intake) finish(ctx context.Context, ev *models.CheckoutCompleted, res *IntakeResult) {
	metrics.IncWebhook(res.Outcome)

	if in.audit == nil {
		return
	}
	record := &models.WebhookEvent{
		Provider:        in.provider,
		EventID:         ev.EventID,
		EventType:       ev.EventType,
		PaymentIntentID: ev.PaymentIntentID,
		Outcome:         res.Outcome,
	}
	if res.Engagement != nil {
		record.EngagementID = res.Engagement.ID
	}
	if err := in.audit.RecordWebhookEvent(ctx, record); err != nil {
		in.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("failed to record webhook event")
	}
}

const unknownEventType = "unknown"

// payloadDigest names a delivery whose event id could not be read.
func payloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:16])
}

func checkoutInput(ev *models.CheckoutCompleted) (CreateEngagementInput, error) {
	in := CreateEngagementInput{
		RequesterID:       ev.RequesterID,
		ProviderID:        strings.TrimSpace(ev.Metadata[gateway.MetaProviderID]),
		Goal:              strings.TrimSpace(ev.Metadata[gateway.MetaGoal]),
		Total:             ev.AmountTotal,
		Currency:          ev.Currency,
		PaymentIntentID:   ev.PaymentIntentID,
		CheckoutSessionID: ev.SessionID,
	}

	rawDuration := strings.TrimSpace(ev.Metadata[gateway.MetaDuration])
	if rawDuration == "" {
		return in, fmt.Errorf("%w: missing duration", domain.ErrValidation)
	}
	duration, err := strconv.Atoi(rawDuration)
	if err != nil {
		return in, fmt.Errorf("%w: duration %q is not a number", domain.ErrValidation, rawDuration)
	}
	in.Duration = duration

	return in, in.validate()
}

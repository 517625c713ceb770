package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"healthmate/internal/config"
	"healthmate/internal/domain"
	"healthmate/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeGateway struct {
	api           *client.API
	webhookSecret string
	currency      string
	productName   string
	successURL    string
	cancelURL     string
}

func NewStripeGateway(cfg config.PaymentsConfig) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)

	return &StripeGateway{
		api:           sc,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		productName:   cfg.ProductName,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrValidation)
	}

	successURL := firstNonEmpty(req.SuccessURL, g.successURL)
	cancelURL := firstNonEmpty(req.CancelURL, g.cancelURL)

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(int64(req.Price)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(g.productName),
						Description: stripe.String(req.Goal),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.RequesterID),
	}
	if req.RequesterEmail != "" {
		params.CustomerEmail = stripe.String(req.RequesterEmail)
	}
	params.AddMetadata(MetaProviderID, req.ProviderID)
	params.AddMetadata(MetaGoal, req.Goal)
	params.AddMetadata(MetaDuration, strconv.Itoa(req.Duration))
	params.Context = ctx

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutSession{
		ID:         session.ID,
		URL:        session.URL,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*models.CheckoutCompleted, error) {
	return VerifyWebhook(payload, signature, g.webhookSecret)
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string) (*RefundResult, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx

	refund, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment intent %s: %w", paymentIntentID, err)
	}
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return nil, fmt.Errorf("refund %s ended with status %s", refund.ID, refund.Status)
	}
	return &RefundResult{ID: refund.ID, Status: string(refund.Status)}, nil
}

// VerifyWebhook checks the Stripe-Signature header over the raw payload and
// extracts the checkout fields. Events of other types come back with only
// EventID and EventType set, as do verified checkout events whose data cannot
// be decoded; those also carry a domain.ErrValidation error.
func VerifyWebhook(payload []byte, signature, secret string) (*models.CheckoutCompleted, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	out := &models.CheckoutCompleted{
		EventID:   event.ID,
		EventType: string(event.Type),
	}
	if out.EventType != EventCheckoutCompleted {
		return out, nil
	}
	if event.Data == nil {
		return out, fmt.Errorf("%w: event %s has no data", domain.ErrValidation, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return out, fmt.Errorf("%w: decode checkout session: %v", domain.ErrValidation, err)
	}

	out.SessionID = session.ID
	out.RequesterID = session.ClientReferenceID
	out.AmountTotal = models.Money(session.AmountTotal)
	out.Currency = strings.ToLower(string(session.Currency))
	out.Metadata = session.Metadata
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	return out, nil
}

// IsSignatureError reports whether err came from webhook verification.
func IsSignatureError(err error) bool {
	return errors.Is(err, domain.ErrInvalidSignature)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

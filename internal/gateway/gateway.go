// Package gateway wraps the payment provider: hosted checkout, webhook
// verification and refunds.
package gateway

import (
	"context"

	"healthmate/internal/models"
)

// Metadata keys attached to every checkout session.
const (
	MetaProviderID = "providerId"
	MetaGoal       = "goal"
	MetaDuration   = "duration"
)

const EventCheckoutCompleted = "checkout.session.completed"

type CheckoutRequest struct {
	RequesterID    string
	RequesterEmail string
	ProviderID     string
	Goal           string
	Duration       int
	Price          models.Money
	SuccessURL     string
	CancelURL      string
}

type CheckoutSession struct {
	ID         string `json:"session_id"`
	URL        string `json:"url"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type RefundResult struct {
	ID     string
	Status string
}

// Gateway is implemented by the Stripe adapter and by test doubles.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*models.CheckoutCompleted, error)
	Refund(ctx context.Context, paymentIntentID string) (*RefundResult, error)
}

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"healthmate/internal/models"

	"github.com/google/uuid"
)

// FakeGateway is an in-memory Gateway. Webhooks are still verified with the
// real Stripe signature scheme against Secret.
type FakeGateway struct {
	Secret      string
	RefundErr   error
	RefundDelay time.Duration

	mu        sync.Mutex
	refunds   []string
	checkouts []CheckoutRequest
}

func NewFakeGateway(secret string) *FakeGateway {
	return &FakeGateway{Secret: secret}
}

func (f *FakeGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	f.mu.Lock()
	f.checkouts = append(f.checkouts, req)
	f.mu.Unlock()

	id := "cs_test_" + uuid.NewString()
	return &CheckoutSession{
		ID:         id,
		URL:        fmt.Sprintf("https://checkout.example.test/pay/%s", id),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}, nil
}

func (f *FakeGateway) ParseWebhook(payload []byte, signature string) (*models.CheckoutCompleted, error) {
	return VerifyWebhook(payload, signature, f.Secret)
}

func (f *FakeGateway) Refund(ctx context.Context, paymentIntentID string) (*RefundResult, error) {
	if f.RefundDelay > 0 {
		select {
		case <-time.After(f.RefundDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, paymentIntentID)
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	return &RefundResult{ID: "re_" + paymentIntentID, Status: "succeeded"}, nil
}

// Refunds returns the payment intents refund was attempted for.
func (f *FakeGateway) Refunds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refunds...)
}

func (f *FakeGateway) Checkouts() []CheckoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CheckoutRequest(nil), f.checkouts...)
}

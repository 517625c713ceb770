package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// CheckoutEventFixture describes a checkout.session.completed delivery.
type CheckoutEventFixture struct {
	EventID         string
	SessionID       string
	PaymentIntentID string
	RequesterID     string
	ProviderID      string
	Goal            string
	Duration        int
	AmountTotal     int64
	Currency        string
}

// BuildCheckoutEvent renders the fixture as a Stripe event payload.
func BuildCheckoutEvent(f CheckoutEventFixture) []byte {
	metadata := map[string]string{}
	if f.ProviderID != "" {
		metadata[MetaProviderID] = f.ProviderID
	}
	if f.Goal != "" {
		metadata[MetaGoal] = f.Goal
	}
	if f.Duration != 0 {
		metadata[MetaDuration] = strconv.Itoa(f.Duration)
	}
	currency := f.Currency
	if currency == "" {
		currency = "egp"
	}

	body, _ := json.Marshal(map[string]any{
		"id":     f.EventID,
		"object": "event",
		"type":   EventCheckoutCompleted,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  f.SessionID,
				"object":              "checkout.session",
				"client_reference_id": f.RequesterID,
				"amount_total":        f.AmountTotal,
				"currency":            currency,
				"payment_intent":      f.PaymentIntentID,
				"payment_status":      "paid",
				"metadata":            metadata,
			},
		},
	})
	return body
}

// SignPayload produces a valid Stripe-Signature header for payload.
func SignPayload(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

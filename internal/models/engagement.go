package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Money is an amount in minor currency units (piasters, cents).
type Money int64

// PlatformFeePercent is the fixed share of the total kept by the platform.
const PlatformFeePercent = 15

// MoneyFromMajor converts a major-unit amount (e.g. 1000.50) into minor units.
func MoneyFromMajor(v float64) Money {
	return Money(math.Round(v * 100))
}

// Major returns the amount in major units.
func (m Money) Major() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	return strconv.FormatFloat(m.Major(), 'f', 2, 64)
}

// MarshalJSON renders the amount in major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Major())
}

// UnmarshalJSON accepts a major-unit number.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = MoneyFromMajor(v)
	return nil
}

// SplitFee computes the platform fee (rounded half-up) and the provider's
// net income. fee + income == total always holds.
func SplitFee(total Money) (fee, income Money) {
	fee = (total*PlatformFeePercent + 50) / 100
	return fee, total - fee
}

type Engagement struct {
	ID                string     `json:"id"`
	RequesterID       string     `json:"requester_id"`
	ProviderID        string     `json:"provider_id"`
	Goal              string     `json:"goal"`
	Duration          int        `json:"duration"`
	TotalAmount       Money      `json:"total_price"`
	PlatformFee       Money      `json:"platform_fee"`
	ProviderIncome    Money      `json:"provider_income"`
	Currency          string     `json:"currency"`
	IsPaid            bool       `json:"is_paid"`
	PaidAt            *time.Time `json:"paid_at"`
	PaymentIntentID   string     `json:"payment_intent_id,omitempty"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	Status            string     `json:"status"` // pending, accepted, rejected
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
	RefundError       *string    `json:"refund_error,omitempty"`
	RefundAttempts    int        `json:"refund_attempts"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsParticipant reports whether userID is the requester or the provider.
func (e *Engagement) IsParticipant(userID string) bool {
	return userID != "" && (userID == e.RequesterID || userID == e.ProviderID)
}

// Counterpart returns the other participant for userID.
func (e *Engagement) Counterpart(userID string) string {
	if userID == e.RequesterID {
		return e.ProviderID
	}
	return e.RequesterID
}

// RefundLedgerPending prefixes refund_error when the gateway confirmed the
// refund but the ledger row could not be updated.
const RefundLedgerPending = "refunded at gateway, ledger update failed"

// RefundedAtGateway is true when only the ledger side of a refund is missing.
// Retrying must then settle the row without calling the gateway again.
func (e *Engagement) RefundedAtGateway() bool {
	return e.RefundError != nil && strings.HasPrefix(*e.RefundError, RefundLedgerPending)
}

// NeedsRefund is true for a rejected engagement whose refund is not confirmed yet.
func (e *Engagement) NeedsRefund() bool {
	return e.Status == StatusRejected && e.IsPaid
}

package payments

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var (
	ErrProcessor      = errors.New("payment processor error")
	ErrBadSignature   = errors.New("invalid webhook signature")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrAmountMismatch = errors.New("amount does not match order total")
	ErrNotCardOrder   = errors.New("order is not paid by card")
	ErrAlreadyPaid    = errors.New("order is already paid")
	ErrNotFound       = errors.New("payment not found")
	ErrUnknownOrder   = errors.New("webhook references an unknown order")
)

// Payment is the local record of a processor payment. Amount is in the
// processor's minor units, as reported. Matched is false for a capture that
// did not pay its order's total in the store currency; such a payment never
// marks the order paid and is refunded.
type Payment struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"orderId"`
	UserID    string     `json:"userId"`
	IntentID  string     `json:"intentId"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Status    Status     `json:"status"`
	Matched   bool       `json:"matched"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	RefundID  string     `json:"refundId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Intent is what the client needs to confirm a payment.
type Intent struct {
	ClientSecret string `json:"clientSecret"`
	IntentID     string `json:"intentId"`
}

var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// ToMinor converts a major-unit amount to the processor's smallest unit.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// Covers reports whether p pays total exactly in currency.
func Covers(p Payment, total decimal.Decimal, currency string) bool {
	return strings.EqualFold(p.Currency, currency) && p.Amount == ToMinor(total, currency)
}

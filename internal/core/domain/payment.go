package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// Payment is the internal record of a payment request. It is created by the
// intake service, its status is mutated only by the webhook dispatcher, and
// the reconciliation matcher may reference it but never writes to it.
type Payment struct {
	ID                uuid.UUID         `json:"id"`
	AmountMinorUnits  int64             `json:"amount_minor_units"`
	Currency          string            `json:"currency"`
	Status            PaymentStatus     `json:"status"`
	PaymentMethod     string            `json:"payment_method,omitempty"`
	ExternalPaymentID *string           `json:"external_payment_id,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IsTerminal returns true if the payment is in a final state.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusFailed,
		PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

// ValidStatusTransition reports whether moving from -> to is allowed.
// Terminal states accept no further transitions except succeeded -> refunded.
func ValidStatusTransition(from, to PaymentStatus) bool {
	switch from {
	case PaymentStatusPending, PaymentStatusProcessing:
		return to != PaymentStatusPending
	case PaymentStatusSucceeded:
		return to == PaymentStatusRefunded
	}
	return false
}

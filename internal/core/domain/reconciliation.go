package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationStatus represents the matching state of an uploaded record.
type ReconciliationStatus string

const (
	ReconciliationStatusUnmatched ReconciliationStatus = "unmatched"
	ReconciliationStatusMatched   ReconciliationStatus = "matched"
	ReconciliationStatusDisputed  ReconciliationStatus = "disputed"
)

// ReconciliationRecord is one externally reported transaction awaiting
// correlation against internal payments. Records are created in bulk from an
// uploaded stream and mutated only by the matcher.
type ReconciliationRecord struct {
	ID                    uuid.UUID            `json:"id"`
	ExternalTransactionID string               `json:"external_transaction_id"`
	AmountMinorUnits      int64                `json:"amount_minor_units"`
	Currency              string               `json:"currency"`
	Status                ReconciliationStatus `json:"status"`
	MatchedPaymentID      *uuid.UUID           `json:"matched_payment_id,omitempty"`
	TransactionDate       time.Time            `json:"transaction_date"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// MatchKey indexes payments for the two-factor exact-match rule: a record
// matches a payment iff both the amount and the external transaction id are
// equal.
type MatchKey struct {
	AmountMinorUnits      int64
	ExternalTransactionID string
}

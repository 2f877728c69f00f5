package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateEvent reports an event insert that lost a race on the event_id
// primary key. The loser treats the event as already received.
var ErrDuplicateEvent = errors.New("webhook event already exists")

// Well-known inbound event types. Unknown types are acknowledged, not errors.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentCancelled = "payment.cancelled"
)

// WebhookEvent is one distinct inbound signed event. EventID is the dedup key;
// the row is immutable after creation except Processed/ProcessedAt.
type WebhookEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Payload     []byte     `json:"payload"`
	Signature   string     `json:"signature"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DeliveryStatus represents the outbound delivery state of a webhook.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusAbandoned DeliveryStatus = "abandoned"
)

// WebhookDelivery tracks delivery of one event through the retry state
// machine: pending -> delivered, or failed -> (retry) -> failed | delivered |
// abandoned. NextAttemptAt is meaningful only while status is failed.
type WebhookDelivery struct {
	ID            uuid.UUID      `json:"id"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Payload       []byte         `json:"payload"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	LastError     *string        `json:"last_error,omitempty"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsTerminal returns true once no further delivery attempts will be made.
func (d *WebhookDelivery) IsTerminal() bool {
	return d.Status == DeliveryStatusDelivered || d.Status == DeliveryStatusAbandoned
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPaymentCreated      AuditAction = "PAYMENT_CREATED"
	AuditActionGatewayOutcome      AuditAction = "GATEWAY_OUTCOME"
	AuditActionPaymentStatusChange AuditAction = "PAYMENT_STATUS_CHANGE"
	AuditActionWebhookReceived     AuditAction = "WEBHOOK_RECEIVED"
	AuditActionDeliveryAbandoned   AuditAction = "DELIVERY_ABANDONED"
	AuditActionReconciliationRun   AuditAction = "RECONCILIATION_RUN"
	AuditActionManualReviewFlag    AuditAction = "MANUAL_REVIEW_FLAG"
)

// AuditLog records a single audited event. Writes are fire-and-forget: a
// failed audit write never rolls back the primary operation.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

package ports

import (
	"context"
	"time"

	"payhub/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentRepository defines persistence operations for payments.
// Methods accepting pgx.Tx run inside transaction blocks; GetByExternalIDForUpdate
// takes a row lock so concurrent status writers for one payment serialize.
type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByExternalIDForUpdate(ctx context.Context, tx pgx.Tx, externalPaymentID string) (*domain.Payment, error)
	UpdateOutcome(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus, externalPaymentID string) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus) error
	ListWithExternalID(ctx context.Context) ([]domain.Payment, error)
}

// IdempotencyRepository defines persistence for the idempotency ledger.
// TryInsertLocked and the lock mutations are compare-and-swap operations: they
// report whether the swap won so the ledger can distinguish races.
type IdempotencyRepository interface {
	// TryInsertLocked inserts a new locked record. Returns false if a record
	// with the key already exists.
	TryInsertLocked(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) (bool, error)
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// TakeOverLock swaps the lock token of a stale locked record. Returns
	// false if the record changed since it was read.
	TakeOverLock(ctx context.Context, key string, oldToken, newToken uuid.UUID, lockedAt time.Time) (bool, error)
	// SaveResponse stores the final response and clears the lock. Returns
	// false if the lock token does not match (lock was taken over).
	SaveResponse(ctx context.Context, key string, token uuid.UUID, body []byte, status int) (bool, error)
	TouchLastUsed(ctx context.Context, key string, at time.Time) error
}

// WebhookEventRepository defines persistence for inbound events.
type WebhookEventRepository interface {
	Create(ctx context.Context, tx pgx.Tx, event *domain.WebhookEvent) error
	GetByEventID(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
}

// WebhookDeliveryRepository defines persistence for outbound delivery state.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, tx pgx.Tx, delivery *domain.WebhookDelivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error)
	Update(ctx context.Context, delivery *domain.WebhookDelivery) error
	// ListDue returns failed deliveries with next_attempt_at <= now, oldest
	// first, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
}

// ReconciliationRepository defines persistence for uploaded records.
type ReconciliationRepository interface {
	CreateBatch(ctx context.Context, records []domain.ReconciliationRecord) error
	ListUnmatched(ctx context.Context) ([]domain.ReconciliationRecord, error)
	UpdateMatch(ctx context.Context, id uuid.UUID, status domain.ReconciliationStatus, matchedPaymentID *uuid.UUID) error
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

package ports

import (
	"context"
	"time"

	"payhub/internal/core/domain"

	"github.com/google/uuid"
)

// AcquireOutcome classifies the result of an idempotency ledger Acquire.
type AcquireOutcome string

const (
	// AcquireProceed means the caller won the lock and must Release exactly once.
	AcquireProceed AcquireOutcome = "proceed"
	// AcquireReplay means a stored response must be returned byte-identical.
	AcquireReplay AcquireOutcome = "replay"
	// AcquireConflictProcessing means the same request is still in flight.
	AcquireConflictProcessing AcquireOutcome = "conflict_processing"
	// AcquireConflictMismatch means the key was reused with a different body.
	AcquireConflictMismatch AcquireOutcome = "conflict_mismatch"
)

// AcquireResult carries the outcome of one Acquire call. Lock is set only for
// AcquireProceed; Body and Status only for AcquireReplay.
type AcquireResult struct {
	Outcome AcquireOutcome
	Lock    domain.LockHandle
	Body    []byte
	Status  int
}

// IdempotencyLedger guards request-level exactly-once-effect semantics.
type IdempotencyLedger interface {
	Acquire(ctx context.Context, key, requestHash string) (*AcquireResult, error)
	// Release stores the final response and clears the lock. Must be called
	// exactly once per AcquireProceed, on every exit path.
	Release(ctx context.Context, lock domain.LockHandle, body []byte, status int) error
}

// CreatePaymentRequest holds validated input for payment creation.
type CreatePaymentRequest struct {
	AmountMinorUnits int64
	Currency         string
	PaymentMethod    string
	Metadata         map[string]string
	RawBody          []byte // exact request bytes, hashed for the ledger
}

// PaymentResult pairs the externally visible response with its status code.
type PaymentResult struct {
	Payment  *domain.Payment
	Body     []byte
	Status   int
	Replayed bool
}

// PaymentService defines the intake business logic.
type PaymentService interface {
	CreatePayment(ctx context.Context, idempotencyKey string, req CreatePaymentRequest) (*PaymentResult, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
}

// GatewayResult is the decision returned by the (stubbed) payment gateway.
type GatewayResult struct {
	Status            domain.PaymentStatus // succeeded or failed
	ExternalPaymentID string
	Reason            string
}

// Gateway is the stubbed external gateway decision point.
type Gateway interface {
	Charge(ctx context.Context, payment *domain.Payment) (*GatewayResult, error)
}

// SignatureService signs and verifies webhook payloads with HMAC-SHA256.
// Signatures travel as "sha256=<hex>" over the exact raw payload bytes.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// WebhookService deduplicates, routes, and records inbound signed events.
type WebhookService interface {
	// HandleEvent processes one raw inbound event. Duplicate event ids
	// short-circuit successfully.
	HandleEvent(ctx context.Context, rawPayload []byte, signature string) error
}

// SweepResult reports the counts of one retry scheduler run.
type SweepResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// RetryService re-attempts failed webhook deliveries with exponential backoff.
type RetryService interface {
	RunOnce(ctx context.Context) (*SweepResult, error)
}

// ReconciliationUpload is one parsed record from an uploaded stream.
type ReconciliationUpload struct {
	ExternalTransactionID string
	AmountMinorUnits      int64
	Currency              string
	TransactionDate       time.Time
}

// MatchSummary reports the outcome of one reconciliation run.
type MatchSummary struct {
	Total     int     `json:"total"`
	Matched   int     `json:"matched"`
	Disputed  int     `json:"disputed"`
	Unmatched int     `json:"unmatched"`
	MatchRate float64 `json:"match_rate"`
}

// ReconciliationService correlates external records against payments.
type ReconciliationService interface {
	Ingest(ctx context.Context, uploads []ReconciliationUpload) (int, error)
	Match(ctx context.Context) (*MatchSummary, error)
}

// AuditService records audit entries (fire-and-forget).
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// ScopeInternal is the token scope required by internal operator endpoints.
const ScopeInternal = "internal"

// TokenService validates service-to-service JWT tokens for internal endpoints.
type TokenService interface {
	Generate(subject string, scope string) (string, time.Time, error)
	Validate(tokenString string) (*ServiceClaims, error)
}

// ServiceClaims holds the parsed service token claims.
type ServiceClaims struct {
	Subject string
	Scope   string
}

// HashService verifies the internal upload API key (Argon2id).
type HashService interface {
	Hash(secret string) (string, error)
	Verify(secret string, hash string) (bool, error)
}

// ResponseCache is the Redis fast path for idempotency replay. The cached
// value carries the request hash so body-mismatch conflicts are still caught.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*CachedResponse, error) // nil, nil on miss
	Set(ctx context.Context, key string, value *CachedResponse, ttl time.Duration) error
}

// CachedResponse is the stored terminal response for one idempotency key.
type CachedResponse struct {
	RequestHash string `json:"request_hash"`
	Body        []byte `json:"body"`
	Status      int    `json:"status"`
}

// SweepLock serializes retry sweeps across instances via a lease.
type SweepLock interface {
	// TryAcquire takes the lease if free. Returns false if another owner
	// holds it.
	TryAcquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

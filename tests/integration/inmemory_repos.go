package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"payhub/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// In-memory repository implementations backing the integration stack. A
// single mutex per repo stands in for row locks; the fake transactor hands
// out no-op transactions since the repos apply writes immediately.

type fakeTx struct{ pgx.Tx }

func (t *fakeTx) Commit(_ context.Context) error   { return nil }
func (t *fakeTx) Rollback(_ context.Context) error { return nil }

type memTransactor struct{}

func (m *memTransactor) Begin(_ context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

// ---- payments ----

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.Payment
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[uuid.UUID]*domain.Payment)}
}

func (r *memPaymentRepo) Create(_ context.Context, _ pgx.Tx, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *payment
	r.payments[payment.ID] = &cp
	return nil
}

func (r *memPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) GetByExternalIDForUpdate(_ context.Context, _ pgx.Tx, externalPaymentID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == externalPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) UpdateOutcome(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.PaymentStatus, externalPaymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return pgx.ErrNoRows
	}
	p.Status = status
	p.ExternalPaymentID = &externalPaymentID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memPaymentRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return pgx.ErrNoRows
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memPaymentRepo) ListWithExternalID(_ context.Context) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.ExternalPaymentID != nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memPaymentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

// ---- idempotency ledger ----

type memIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
}

func newMemIdempotencyRepo() *memIdempotencyRepo {
	return &memIdempotencyRepo{records: make(map[string]*domain.IdempotencyRecord)}
}

func (r *memIdempotencyRepo) TryInsertLocked(_ context.Context, _ pgx.Tx, rec *domain.IdempotencyRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.Key]; exists {
		return false, nil
	}
	cp := *rec
	r.records[rec.Key] = &cp
	return true, nil
}

func (r *memIdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memIdempotencyRepo) TakeOverLock(_ context.Context, key string, oldToken, newToken uuid.UUID, lockedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || !rec.Locked || rec.LockToken == nil || *rec.LockToken != oldToken {
		return false, nil
	}
	rec.LockToken = &newToken
	rec.LockedAt = &lockedAt
	rec.LastUsedAt = lockedAt
	return true, nil
}

func (r *memIdempotencyRepo) SaveResponse(_ context.Context, key string, token uuid.UUID, body []byte, status int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || !rec.Locked || rec.LockToken == nil || *rec.LockToken != token {
		return false, nil
	}
	rec.Locked = false
	rec.LockToken = nil
	rec.LockedAt = nil
	rec.ResponseBody = body
	rec.ResponseStatus = &status
	return true, nil
}

func (r *memIdempotencyRepo) TouchLastUsed(_ context.Context, key string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		rec.LastUsedAt = at
	}
	return nil
}

func (r *memIdempotencyRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ---- webhook events ----

type memWebhookEventRepo struct {
	mu     sync.Mutex
	events map[string]*domain.WebhookEvent
}

func newMemWebhookEventRepo() *memWebhookEventRepo {
	return &memWebhookEventRepo{events: make(map[string]*domain.WebhookEvent)}
}

func (r *memWebhookEventRepo) Create(_ context.Context, _ pgx.Tx, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[event.EventID]; exists {
		return domain.ErrDuplicateEvent
	}
	cp := *event
	r.events[event.EventID] = &cp
	return nil
}

func (r *memWebhookEventRepo) GetByEventID(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (r *memWebhookEventRepo) MarkProcessed(_ context.Context, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := r.events[eventID]; ok {
		ev.Processed = true
		ev.ProcessedAt = &at
	}
	return nil
}

// ---- webhook deliveries ----

type memWebhookDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*domain.WebhookDelivery
}

func newMemWebhookDeliveryRepo() *memWebhookDeliveryRepo {
	return &memWebhookDeliveryRepo{deliveries: make(map[uuid.UUID]*domain.WebhookDelivery)}
}

func (r *memWebhookDeliveryRepo) Create(_ context.Context, _ pgx.Tx, delivery *domain.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *delivery
	r.deliveries[delivery.ID] = &cp
	return nil
}

func (r *memWebhookDeliveryRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *memWebhookDeliveryRepo) Update(_ context.Context, delivery *domain.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *delivery
	r.deliveries[delivery.ID] = &cp
	return nil
}

func (r *memWebhookDeliveryRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookDelivery
	for _, d := range r.deliveries {
		if (d.Status == domain.DeliveryStatusPending || d.Status == domain.DeliveryStatusFailed) &&
			d.NextAttemptAt != nil && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- reconciliation records ----

type memReconciliationRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.ReconciliationRecord
}

func newMemReconciliationRepo() *memReconciliationRepo {
	return &memReconciliationRepo{records: make(map[uuid.UUID]*domain.ReconciliationRecord)}
}

func (r *memReconciliationRepo) CreateBatch(_ context.Context, records []domain.ReconciliationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range records {
		cp := records[i]
		r.records[cp.ID] = &cp
	}
	return nil
}

func (r *memReconciliationRepo) ListUnmatched(_ context.Context) ([]domain.ReconciliationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ReconciliationRecord
	for _, rec := range r.records {
		if rec.Status == domain.ReconciliationStatusUnmatched {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memReconciliationRepo) UpdateMatch(_ context.Context, id uuid.UUID, status domain.ReconciliationStatus, matchedPaymentID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return pgx.ErrNoRows
	}
	rec.Status = status
	rec.MatchedPaymentID = matchedPaymentID
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- audit ----

type memAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (r *memAuditRepo) Create(_ context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

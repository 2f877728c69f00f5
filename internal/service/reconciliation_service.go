package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconciliationMatcher implements ports.ReconciliationService. Matching is
// exact two-factor equality on (amount, external transaction id); payments
// are indexed by that pair so a run costs O(records) amortized instead of
// O(records x payments).
type ReconciliationMatcher struct {
	reconRepo   ports.ReconciliationRepository
	paymentRepo ports.PaymentRepository
	auditSvc    ports.AuditService
	log         zerolog.Logger
	now         func() time.Time
}

// NewReconciliationMatcher creates a new ReconciliationMatcher.
func NewReconciliationMatcher(
	reconRepo ports.ReconciliationRepository,
	paymentRepo ports.PaymentRepository,
	auditSvc ports.AuditService,
	log zerolog.Logger,
) *ReconciliationMatcher {
	return &ReconciliationMatcher{
		reconRepo:   reconRepo,
		paymentRepo: paymentRepo,
		auditSvc:    auditSvc,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ingest bulk-creates unmatched records from a parsed upload stream.
func (m *ReconciliationMatcher) Ingest(ctx context.Context, uploads []ports.ReconciliationUpload) (int, error) {
	if len(uploads) == 0 {
		return 0, nil
	}

	now := m.now()
	records := make([]domain.ReconciliationRecord, 0, len(uploads))
	for _, u := range uploads {
		if u.ExternalTransactionID == "" {
			return 0, apperror.Validation("external_transaction_id is required")
		}
		if u.AmountMinorUnits <= 0 {
			return 0, apperror.ErrInvalidAmount()
		}
		records = append(records, domain.ReconciliationRecord{
			ID:                    uuid.New(),
			ExternalTransactionID: u.ExternalTransactionID,
			AmountMinorUnits:      u.AmountMinorUnits,
			Currency:              u.Currency,
			Status:                domain.ReconciliationStatusUnmatched,
			TransactionDate:       u.TransactionDate,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	}

	if err := m.reconRepo.CreateBatch(ctx, records); err != nil {
		return 0, apperror.ErrStorage(fmt.Errorf("create reconciliation records: %w", err))
	}

	m.log.Info().Int("count", len(records)).Msg("reconciliation records ingested")
	return len(records), nil
}

// Match correlates unmatched records against payments. Records with exactly
// one candidate become matched; records with several (duplicate external ids)
// are bound to the newest payment and flagged disputed for manual review;
// records with none stay unmatched and are eligible for a later run. Payments
// are never mutated.
func (m *ReconciliationMatcher) Match(ctx context.Context) (*ports.MatchSummary, error) {
	records, err := m.reconRepo.ListUnmatched(ctx)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("list unmatched records: %w", err))
	}

	payments, err := m.paymentRepo.ListWithExternalID(ctx)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("list payments: %w", err))
	}

	index := make(map[domain.MatchKey][]*domain.Payment, len(payments))
	for i := range payments {
		p := &payments[i]
		key := domain.MatchKey{
			AmountMinorUnits:      p.AmountMinorUnits,
			ExternalTransactionID: *p.ExternalPaymentID,
		}
		index[key] = append(index[key], p)
	}

	summary := &ports.MatchSummary{Total: len(records)}
	for i := range records {
		rec := &records[i]
		key := domain.MatchKey{
			AmountMinorUnits:      rec.AmountMinorUnits,
			ExternalTransactionID: rec.ExternalTransactionID,
		}
		candidates := index[key]

		switch {
		case len(candidates) == 0:
			summary.Unmatched++

		case len(candidates) == 1:
			if err := m.reconRepo.UpdateMatch(ctx, rec.ID, domain.ReconciliationStatusMatched, &candidates[0].ID); err != nil {
				return nil, apperror.ErrStorage(fmt.Errorf("update match: %w", err))
			}
			summary.Matched++

		default:
			// Duplicate external ids: bind to the newest payment, flag the
			// record for manual review, and surface the shadowed payments.
			newest := candidates[0]
			for _, c := range candidates[1:] {
				if c.CreatedAt.After(newest.CreatedAt) {
					newest = c
				}
			}
			if err := m.reconRepo.UpdateMatch(ctx, rec.ID, domain.ReconciliationStatusDisputed, &newest.ID); err != nil {
				return nil, apperror.ErrStorage(fmt.Errorf("update disputed match: %w", err))
			}
			summary.Disputed++
			for _, c := range candidates {
				if c.ID == newest.ID {
					continue
				}
				m.auditReview(ctx, rec, c)
			}
		}
	}

	if summary.Total > 0 {
		summary.MatchRate = float64(summary.Matched) / float64(summary.Total)
	}

	m.auditRun(ctx, summary)
	m.log.Info().
		Int("total", summary.Total).
		Int("matched", summary.Matched).
		Int("disputed", summary.Disputed).
		Int("unmatched", summary.Unmatched).
		Float64("match_rate", summary.MatchRate).
		Msg("reconciliation run complete")

	return summary, nil
}

func (m *ReconciliationMatcher) auditReview(ctx context.Context, rec *domain.ReconciliationRecord, shadowed *domain.Payment) {
	if m.auditSvc == nil {
		return
	}
	details, _ := json.Marshal(map[string]interface{}{
		"record_id":               rec.ID.String(),
		"external_transaction_id": rec.ExternalTransactionID,
		"shadowed_payment_id":     shadowed.ID.String(),
	})
	m.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionManualReviewFlag,
		ResourceType: "reconciliation_record",
		ResourceID:   rec.ID.String(),
		Details:      string(details),
		CreatedAt:    m.now(),
	})
}

func (m *ReconciliationMatcher) auditRun(ctx context.Context, summary *ports.MatchSummary) {
	if m.auditSvc == nil {
		return
	}
	details, _ := json.Marshal(summary)
	m.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionReconciliationRun,
		ResourceType: "reconciliation_run",
		Details:      string(details),
		CreatedAt:    m.now(),
	})
}

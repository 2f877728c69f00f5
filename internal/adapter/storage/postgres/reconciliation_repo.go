package postgres

import (
	"context"
	"fmt"
	"time"

	"payhub/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReconciliationRepo implements ports.ReconciliationRepository.
type ReconciliationRepo struct {
	pool Pool
}

// NewReconciliationRepo creates a new ReconciliationRepo.
func NewReconciliationRepo(pool Pool) *ReconciliationRepo {
	return &ReconciliationRepo{pool: pool}
}

// CreateBatch inserts a batch of uploaded statement records in one transaction.
func (r *ReconciliationRepo) CreateBatch(ctx context.Context, records []domain.ReconciliationRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	query := `INSERT INTO reconciliation_records
		(id, external_transaction_id, amount_minor_units, currency, status,
		matched_payment_id, transaction_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for i := range records {
		rec := &records[i]
		batch.Queue(query,
			rec.ID, rec.ExternalTransactionID, rec.AmountMinorUnits, rec.Currency,
			string(rec.Status), rec.MatchedPaymentID, rec.TransactionDate,
			rec.CreatedAt, rec.UpdatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert reconciliation record: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return tx.Commit(ctx)
}

// ListUnmatched returns records still awaiting a match, oldest first.
func (r *ReconciliationRepo) ListUnmatched(ctx context.Context) ([]domain.ReconciliationRecord, error) {
	query := `SELECT id, external_transaction_id, amount_minor_units, currency, status,
		matched_payment_id, transaction_date, created_at, updated_at
		FROM reconciliation_records WHERE status = 'unmatched' ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unmatched records: %w", err)
	}
	defer rows.Close()

	var records []domain.ReconciliationRecord
	for rows.Next() {
		rec := domain.ReconciliationRecord{}
		var status string
		err := rows.Scan(
			&rec.ID, &rec.ExternalTransactionID, &rec.AmountMinorUnits, &rec.Currency,
			&status, &rec.MatchedPaymentID, &rec.TransactionDate, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation record: %w", err)
		}
		rec.Status = domain.ReconciliationStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateMatch records the outcome of a matching pass for one record.
func (r *ReconciliationRepo) UpdateMatch(ctx context.Context, id uuid.UUID, status domain.ReconciliationStatus, matchedPaymentID *uuid.UUID) error {
	query := `UPDATE reconciliation_records
		SET status = $2, matched_payment_id = $3, updated_at = $4 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, string(status), matchedPaymentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update reconciliation record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reconciliation record %s not found", id)
	}
	return nil
}

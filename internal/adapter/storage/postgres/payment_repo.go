package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payhub/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

const paymentColumns = `id, amount_minor_units, currency, status, payment_method,
	external_payment_id, idempotency_key, metadata, created_at, updated_at`

// Create inserts a new payment within a database transaction.
func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `INSERT INTO payments (id, amount_minor_units, currency, status, payment_method,
		external_payment_id, idempotency_key, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.Exec(ctx, query,
		p.ID, p.AmountMinorUnits, p.Currency, string(p.Status), p.PaymentMethod,
		p.ExternalPaymentID, p.IdempotencyKey, metadata, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment by id. Returns nil, nil when absent.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetByExternalIDForUpdate fetches a payment by external id with a row lock,
// serializing concurrent status writers.
func (r *PaymentRepo) GetByExternalIDForUpdate(ctx context.Context, tx pgx.Tx, externalPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE external_payment_id = $1 FOR UPDATE`

	p, err := scanPayment(tx.QueryRow(ctx, query, externalPaymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment for update: %w", err)
	}
	return p, nil
}

// UpdateOutcome persists the gateway decision for a newly created payment.
func (r *PaymentRepo) UpdateOutcome(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus, externalPaymentID string) error {
	query := `UPDATE payments SET status = $2, external_payment_id = $3, updated_at = $4 WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, string(status), externalPaymentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update payment outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found", id)
	}
	return nil
}

// UpdateStatus transitions a payment's status within a transaction.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus) error {
	query := `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found", id)
	}
	return nil
}

// ListWithExternalID returns all payments carrying an external payment id,
// the candidate set for reconciliation matching.
func (r *PaymentRepo) ListWithExternalID(ctx context.Context) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE external_payment_id IS NOT NULL ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	var status string
	var metadata []byte
	err := row.Scan(
		&p.ID, &p.AmountMinorUnits, &p.Currency, &status, &p.PaymentMethod,
		&p.ExternalPaymentID, &p.IdempotencyKey, &metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return p, nil
}

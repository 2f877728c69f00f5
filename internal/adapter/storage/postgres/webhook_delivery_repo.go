package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payhub/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookDeliveryRepo implements ports.WebhookDeliveryRepository.
type WebhookDeliveryRepo struct {
	pool Pool
}

// NewWebhookDeliveryRepo creates a new WebhookDeliveryRepo.
func NewWebhookDeliveryRepo(pool Pool) *WebhookDeliveryRepo {
	return &WebhookDeliveryRepo{pool: pool}
}

const deliveryColumns = `id, event_id, event_type, payload, status, attempts,
	last_error, next_attempt_at, delivered_at, created_at, updated_at`

// Create inserts a delivery row within a transaction.
func (r *WebhookDeliveryRepo) Create(ctx context.Context, tx pgx.Tx, d *domain.WebhookDelivery) error {
	query := `INSERT INTO webhook_deliveries
		(id, event_id, event_type, payload, status, attempts, last_error,
		next_attempt_at, delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		d.ID, d.EventID, d.EventType, d.Payload, string(d.Status), d.Attempts,
		d.LastError, d.NextAttemptAt, d.DeliveredAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// GetByID fetches a delivery by id. Returns nil, nil when absent.
func (r *WebhookDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook delivery: %w", err)
	}
	return d, nil
}

// Update persists the outcome of a delivery attempt.
func (r *WebhookDeliveryRepo) Update(ctx context.Context, d *domain.WebhookDelivery) error {
	query := `UPDATE webhook_deliveries
		SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5,
			delivered_at = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		d.ID, string(d.Status), d.Attempts, d.LastError, d.NextAttemptAt,
		d.DeliveredAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook delivery %s not found", d.ID)
	}
	return nil
}

// ListDue returns non-terminal deliveries whose next attempt time has passed,
// oldest first, capped at limit.
func (r *WebhookDeliveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status IN ('pending', 'failed') AND next_attempt_at <= $1
		ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	var status string
	err := row.Scan(
		&d.ID, &d.EventID, &d.EventType, &d.Payload, &status, &d.Attempts,
		&d.LastError, &d.NextAttemptAt, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DeliveryStatus(status)
	return d, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payhub/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

// WebhookEventRepo implements ports.WebhookEventRepository. The event_id
// primary key is the dedup anchor for incoming events.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// Create inserts a received webhook event within a transaction. A concurrent
// insert of the same event_id surfaces as domain.ErrDuplicateEvent.
func (r *WebhookEventRepo) Create(ctx context.Context, tx pgx.Tx, ev *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (event_id, event_type, payload, signature, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		ev.EventID, ev.EventType, ev.Payload, ev.Signature, ev.Processed, ev.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetByEventID fetches an event by its provider id. Returns nil, nil when absent.
func (r *WebhookEventRepo) GetByEventID(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	query := `SELECT event_id, event_type, payload, signature, processed, processed_at, created_at
		FROM webhook_events WHERE event_id = $1`

	ev := &domain.WebhookEvent{}
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&ev.EventID, &ev.EventType, &ev.Payload, &ev.Signature, &ev.Processed,
		&ev.ProcessedAt, &ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return ev, nil
}

// MarkProcessed flags an event as fully handled.
func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	query := `UPDATE webhook_events SET processed = TRUE, processed_at = $2 WHERE event_id = $1`

	tag, err := r.pool.Exec(ctx, query, eventID, at)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook event %s not found", eventID)
	}
	return nil
}

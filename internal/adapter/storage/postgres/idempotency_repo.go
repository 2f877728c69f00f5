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

// IdempotencyRepo implements ports.IdempotencyRepository. Lock acquisition and
// release are compare-and-swap operations keyed on the lock token, so the row
// acts as a single-row lock that survives process crashes.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// TryInsertLocked attempts to claim a key by inserting a locked row.
// Returns false when the key already exists.
func (r *IdempotencyRepo) TryInsertLocked(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) (bool, error) {
	query := `INSERT INTO idempotency_records
		(key, request_hash, locked, lock_token, locked_at, last_used_at, created_at)
		VALUES ($1, $2, TRUE, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		rec.Key, rec.RequestHash, rec.LockToken, rec.LockedAt, rec.LastUsedAt, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches an idempotency record by key. Returns nil, nil when absent.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT key, request_hash, locked, lock_token, response_body, response_status,
		locked_at, last_used_at, created_at
		FROM idempotency_records WHERE key = $1`

	rec := &domain.IdempotencyRecord{}
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.RequestHash, &rec.Locked, &rec.LockToken, &rec.ResponseBody,
		&rec.ResponseStatus, &rec.LockedAt, &rec.LastUsedAt, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

// TakeOverLock swaps a stale lock token for a fresh one. The swap only
// succeeds when the row still carries the observed token, so exactly one
// contender wins.
func (r *IdempotencyRepo) TakeOverLock(ctx context.Context, key string, oldToken, newToken uuid.UUID, lockedAt time.Time) (bool, error) {
	query := `UPDATE idempotency_records
		SET lock_token = $3, locked_at = $4, last_used_at = $4
		WHERE key = $1 AND lock_token = $2 AND locked = TRUE`

	tag, err := r.pool.Exec(ctx, query, key, oldToken, newToken, lockedAt)
	if err != nil {
		return false, fmt.Errorf("take over lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveResponse stores the canonical response and releases the lock, guarded
// by the lock token. Returns false when the lock was taken over in the
// meantime and the caller's response must be discarded.
func (r *IdempotencyRepo) SaveResponse(ctx context.Context, key string, token uuid.UUID, body []byte, status int) (bool, error) {
	query := `UPDATE idempotency_records
		SET locked = FALSE, lock_token = NULL, locked_at = NULL,
			response_body = $3, response_status = $4, last_used_at = $5
		WHERE key = $1 AND lock_token = $2 AND locked = TRUE`

	tag, err := r.pool.Exec(ctx, query, key, token, body, status, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("save idempotency response: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchLastUsed bumps the last_used_at timestamp on a replay hit.
func (r *IdempotencyRepo) TouchLastUsed(ctx context.Context, key string, at time.Time) error {
	query := `UPDATE idempotency_records SET last_used_at = $2 WHERE key = $1`

	if _, err := r.pool.Exec(ctx, query, key, at); err != nil {
		return fmt.Errorf("touch idempotency record: %w", err)
	}
	return nil
}

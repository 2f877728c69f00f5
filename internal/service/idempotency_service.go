package service

import (
	"context"
	"fmt"
	"time"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IdempotencyLedgerService implements ports.IdempotencyLedger on top of a
// single-row optimistic lock: the locked flag is flipped with database
// compare-and-swap operations, so the lock survives process restarts and
// works across service instances. A Redis response cache serves replays
// without touching the database.
type IdempotencyLedgerService struct {
	repo       ports.IdempotencyRepository
	cache      ports.ResponseCache
	transactor ports.DBTransactor
	lockTTL    time.Duration
	cacheTTL   time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewIdempotencyLedger creates a new IdempotencyLedgerService.
func NewIdempotencyLedger(
	repo ports.IdempotencyRepository,
	cache ports.ResponseCache,
	transactor ports.DBTransactor,
	lockTTL time.Duration,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *IdempotencyLedgerService {
	return &IdempotencyLedgerService{
		repo:       repo,
		cache:      cache,
		transactor: transactor,
		lockTTL:    lockTTL,
		cacheTTL:   cacheTTL,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Acquire resolves one idempotency key to proceed, replay, or conflict.
//
//   - no record: insert a locked record, Proceed
//   - record with same hash, still locked: processing conflict
//   - record with same hash and stored response: Replay, byte-identical
//   - record with different hash: conflict, regardless of lock state
//
// A lock held longer than the staleness threshold is forcibly taken over.
func (s *IdempotencyLedgerService) Acquire(ctx context.Context, key, requestHash string) (*ports.AcquireResult, error) {
	// Fast path: Redis replay cache. Misses and errors fall through to the DB.
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("idempotency cache check failed, falling through to DB")
	}
	if cached != nil {
		if cached.RequestHash != requestHash {
			return &ports.AcquireResult{Outcome: ports.AcquireConflictMismatch}, nil
		}
		return &ports.AcquireResult{
			Outcome: ports.AcquireReplay,
			Body:    cached.Body,
			Status:  cached.Status,
		}, nil
	}

	now := s.now()
	token := uuid.New()
	rec := &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Locked:      true,
		LockToken:   &token,
		LockedAt:    &now,
		LastUsedAt:  now,
		CreatedAt:   now,
	}

	// The insert commits immediately so the lock is visible to concurrent
	// requests before any downstream work starts.
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	inserted, err := s.repo.TryInsertLocked(ctx, dbTx, rec)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("insert idempotency record: %w", err))
	}
	if inserted {
		if err := dbTx.Commit(ctx); err != nil {
			return nil, apperror.ErrStorage(fmt.Errorf("commit idempotency insert: %w", err))
		}
		return &ports.AcquireResult{
			Outcome: ports.AcquireProceed,
			Lock:    domain.LockHandle{Key: key, Token: token, RequestHash: requestHash},
		}, nil
	}

	existing, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("get idempotency record: %w", err))
	}
	if existing == nil {
		return nil, apperror.ErrStorage(fmt.Errorf("idempotency record for key %q vanished", key))
	}

	// A key must never be reused across distinct payloads.
	if existing.RequestHash != requestHash {
		return &ports.AcquireResult{Outcome: ports.AcquireConflictMismatch}, nil
	}

	if existing.HasResponse() {
		if err := s.repo.TouchLastUsed(ctx, key, now); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to touch idempotency record")
		}
		s.cacheResponse(ctx, key, requestHash, existing.ResponseBody, *existing.ResponseStatus)
		return &ports.AcquireResult{
			Outcome: ports.AcquireReplay,
			Body:    existing.ResponseBody,
			Status:  *existing.ResponseStatus,
		}, nil
	}

	// Locked without a response: either the original caller is still working,
	// or it crashed and the lock has gone stale.
	if existing.LockStale(now, s.lockTTL) {
		newToken := uuid.New()
		won, err := s.repo.TakeOverLock(ctx, key, *existing.LockToken, newToken, now)
		if err != nil {
			return nil, apperror.ErrStorage(fmt.Errorf("take over stale lock: %w", err))
		}
		if won {
			s.log.Warn().
				Str("key", key).
				Time("locked_at", *existing.LockedAt).
				Msg("took over stale idempotency lock")
			return &ports.AcquireResult{
				Outcome: ports.AcquireProceed,
				Lock:    domain.LockHandle{Key: key, Token: newToken, RequestHash: requestHash},
			}, nil
		}
		// Someone else won the takeover race.
	}

	return &ports.AcquireResult{Outcome: ports.AcquireConflictProcessing}, nil
}

// Release stores the final response and clears the lock. It must run exactly
// once per Proceed, on every exit path. If the lock was taken over while the
// caller was working, the response is discarded in favor of the new holder.
func (s *IdempotencyLedgerService) Release(ctx context.Context, lock domain.LockHandle, body []byte, status int) error {
	ok, err := s.repo.SaveResponse(ctx, lock.Key, lock.Token, body, status)
	if err != nil {
		return apperror.ErrStorage(fmt.Errorf("save idempotency response: %w", err))
	}
	if !ok {
		s.log.Warn().Str("key", lock.Key).Msg("idempotency lock was taken over; response discarded")
		return nil
	}

	s.cacheResponse(ctx, lock.Key, lock.RequestHash, body, status)
	return nil
}

// cacheResponse populates the replay fast path (best-effort).
func (s *IdempotencyLedgerService) cacheResponse(ctx context.Context, key, requestHash string, body []byte, status int) {
	entry := &ports.CachedResponse{RequestHash: requestHash, Body: body, Status: status}
	if err := s.cache.Set(ctx, key, entry, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency response")
	}
}

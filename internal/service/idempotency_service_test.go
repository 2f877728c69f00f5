package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports"
	"payhub/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

type ledgerTestDeps struct {
	svc        *IdempotencyLedgerService
	repo       *mocks.MockIdempotencyRepository
	cache      *mocks.MockResponseCache
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupLedger(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		repo:       mocks.NewMockIdempotencyRepository(ctrl),
		cache:      mocks.NewMockResponseCache(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewIdempotencyLedger(d.repo, d.cache, d.transactor, 15*time.Minute, 24*time.Hour, zerolog.Nop())
	return d
}

func TestLedgerAcquire_FreshKeyProceeds(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.cache.EXPECT().Get(ctx, "K1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.repo.EXPECT().TryInsertLocked(ctx, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, rec *domain.IdempotencyRecord) (bool, error) {
			assert.Equal(t, "K1", rec.Key)
			assert.Equal(t, "hash-a", rec.RequestHash)
			assert.True(t, rec.Locked)
			require.NotNil(t, rec.LockToken)
			return true, nil
		})

	result, err := d.svc.Acquire(ctx, "K1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireProceed, result.Outcome)
	assert.Equal(t, "K1", result.Lock.Key)
	assert.NotEqual(t, uuid.Nil, result.Lock.Token)
}

func TestLedgerAcquire_CacheHitReplays(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.cache.EXPECT().Get(ctx, "K1").Return(&ports.CachedResponse{
		RequestHash: "hash-a",
		Body:        []byte(`{"id":"p1"}`),
		Status:      201,
	}, nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireReplay, result.Outcome)
	assert.Equal(t, []byte(`{"id":"p1"}`), result.Body)
	assert.Equal(t, 201, result.Status)
}

func TestLedgerAcquire_CacheHitHashMismatchConflicts(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.cache.EXPECT().Get(ctx, "K1").Return(&ports.CachedResponse{
		RequestHash: "hash-a",
		Body:        []byte(`{"id":"p1"}`),
		Status:      201,
	}, nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-other")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireConflictMismatch, result.Outcome)
}

func TestLedgerAcquire_StoredResponseReplays(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	status := 201
	stored := &domain.IdempotencyRecord{
		Key:            "K1",
		RequestHash:    "hash-a",
		ResponseBody:   []byte(`{"id":"p1","status":"succeeded"}`),
		ResponseStatus: &status,
	}

	d.cache.EXPECT().Get(ctx, "K1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.repo.EXPECT().TryInsertLocked(ctx, gomock.Any(), gomock.Any()).Return(false, nil)
	d.repo.EXPECT().Get(ctx, "K1").Return(stored, nil)
	d.repo.EXPECT().TouchLastUsed(ctx, "K1", gomock.Any()).Return(nil)
	d.cache.EXPECT().Set(ctx, "K1", gomock.Any(), 24*time.Hour).Return(nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireReplay, result.Outcome)
	assert.Equal(t, stored.ResponseBody, result.Body)
	assert.Equal(t, 201, result.Status)
}

func TestLedgerAcquire_KeyReuseDifferentBodyConflicts(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	status := 201
	stored := &domain.IdempotencyRecord{
		Key:            "K1",
		RequestHash:    "hash-a",
		ResponseBody:   []byte(`{"id":"p1"}`),
		ResponseStatus: &status,
	}

	d.cache.EXPECT().Get(ctx, "K1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.repo.EXPECT().TryInsertLocked(ctx, gomock.Any(), gomock.Any()).Return(false, nil)
	d.repo.EXPECT().Get(ctx, "K1").Return(stored, nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-other")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireConflictMismatch, result.Outcome)
}

func TestLedgerAcquire_InFlightConflicts(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	token := uuid.New()
	lockedAt := time.Now().UTC().Add(-time.Minute) // recent, not stale
	stored := &domain.IdempotencyRecord{
		Key:         "K1",
		RequestHash: "hash-a",
		Locked:      true,
		LockToken:   &token,
		LockedAt:    &lockedAt,
	}

	d.cache.EXPECT().Get(ctx, "K1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.repo.EXPECT().TryInsertLocked(ctx, gomock.Any(), gomock.Any()).Return(false, nil)
	d.repo.EXPECT().Get(ctx, "K1").Return(stored, nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireConflictProcessing, result.Outcome)
}

func TestLedgerAcquire_StaleLockTakenOver(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	oldToken := uuid.New()
	lockedAt := time.Now().UTC().Add(-time.Hour) // beyond the 15m threshold
	stored := &domain.IdempotencyRecord{
		Key:         "K1",
		RequestHash: "hash-a",
		Locked:      true,
		LockToken:   &oldToken,
		LockedAt:    &lockedAt,
	}

	d.cache.EXPECT().Get(ctx, "K1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.repo.EXPECT().TryInsertLocked(ctx, gomock.Any(), gomock.Any()).Return(false, nil)
	d.repo.EXPECT().Get(ctx, "K1").Return(stored, nil)
	d.repo.EXPECT().TakeOverLock(ctx, "K1", oldToken, gomock.Any(), gomock.Any()).Return(true, nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireProceed, result.Outcome)
	assert.NotEqual(t, oldToken, result.Lock.Token)
}

func TestLedgerAcquire_TakeoverRaceLostConflicts(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	oldToken := uuid.New()
	lockedAt := time.Now().UTC().Add(-time.Hour)
	stored := &domain.IdempotencyRecord{
		Key:         "K1",
		RequestHash: "hash-a",
		Locked:      true,
		LockToken:   &oldToken,
		LockedAt:    &lockedAt,
	}

	d.cache.EXPECT().Get(ctx, "K1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.repo.EXPECT().TryInsertLocked(ctx, gomock.Any(), gomock.Any()).Return(false, nil)
	d.repo.EXPECT().Get(ctx, "K1").Return(stored, nil)
	d.repo.EXPECT().TakeOverLock(ctx, "K1", oldToken, gomock.Any(), gomock.Any()).Return(false, nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireConflictProcessing, result.Outcome)
}

func TestLedgerAcquire_CacheErrorFallsThrough(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.cache.EXPECT().Get(ctx, "K1").Return(nil, errors.New("redis down"))
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.repo.EXPECT().TryInsertLocked(ctx, gomock.Any(), gomock.Any()).Return(true, nil)

	result, err := d.svc.Acquire(ctx, "K1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ports.AcquireProceed, result.Outcome)
}

func TestLedgerRelease_SavesAndCaches(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	token := uuid.New()
	lock := domain.LockHandle{Key: "K1", Token: token, RequestHash: "hash-a"}
	body := []byte(`{"id":"p1"}`)

	d.repo.EXPECT().SaveResponse(ctx, "K1", token, body, 201).Return(true, nil)
	d.cache.EXPECT().Set(ctx, "K1", gomock.Any(), 24*time.Hour).
		DoAndReturn(func(_ context.Context, _ string, entry *ports.CachedResponse, _ time.Duration) error {
			assert.Equal(t, "hash-a", entry.RequestHash)
			assert.Equal(t, body, entry.Body)
			assert.Equal(t, 201, entry.Status)
			return nil
		})

	err := d.svc.Release(ctx, lock, body, 201)
	assert.NoError(t, err)
}

func TestLedgerRelease_TokenTakenOverDiscardsQuietly(t *testing.T) {
	d := setupLedger(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	token := uuid.New()
	lock := domain.LockHandle{Key: "K1", Token: token, RequestHash: "hash-a"}

	d.repo.EXPECT().SaveResponse(ctx, "K1", token, gomock.Any(), 500).Return(false, nil)
	// No cache Set: a discarded response must not populate the replay path.

	err := d.svc.Release(ctx, lock, []byte(`{}`), 500)
	assert.NoError(t, err)
}

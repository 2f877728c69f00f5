package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeHTTPClient records requests and replies with a canned status per call.
type fakeHTTPClient struct {
	statuses []int
	requests []*http.Request
	err      error
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

type retryTestDeps struct {
	svc          *RetryScheduler
	deliveryRepo *mocks.MockWebhookDeliveryRepository
	sweepLock    *mocks.MockSweepLock
	audit        *mocks.MockAuditService
	client       *fakeHTTPClient
	ctrl         *gomock.Controller
}

func setupRetryScheduler(t *testing.T) *retryTestDeps {
	ctrl := gomock.NewController(t)
	d := &retryTestDeps{
		deliveryRepo: mocks.NewMockWebhookDeliveryRepository(ctrl),
		sweepLock:    mocks.NewMockSweepLock(ctrl),
		audit:        mocks.NewMockAuditService(ctrl),
		client:       &fakeHTTPClient{},
		ctrl:         ctrl,
	}
	d.svc = NewRetryScheduler(
		d.deliveryRepo, d.sweepLock, NewHMACSignatureService(), d.audit, d.client,
		RetrySchedulerConfig{
			DestinationURL: "http://merchant.test/webhooks",
			Secret:         "whsec_test",
			MaxAttempts:    5,
			BaseDelay:      60 * time.Second,
			MaxDelay:       time.Hour,
			BatchSize:      50,
			LeaseTTL:       55 * time.Second,
		},
		zerolog.Nop(),
	)
	return d
}

func failedDelivery(attempts int) domain.WebhookDelivery {
	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	errText := "destination returned 500"
	return domain.WebhookDelivery{
		ID:            uuid.New(),
		EventID:       "evt_1",
		EventType:     domain.EventPaymentSucceeded,
		Payload:       []byte(`{"event_id":"evt_1"}`),
		Status:        domain.DeliveryStatusFailed,
		Attempts:      attempts,
		LastError:     &errText,
		NextAttemptAt: &due,
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now.Add(-time.Minute),
	}
}

// ==================== Backoff Tests ====================

func TestBackoff_DoublesUpToCap(t *testing.T) {
	base := 60 * time.Second
	max := time.Hour

	assert.Equal(t, 60*time.Second, Backoff(0, base, max))
	assert.Equal(t, 120*time.Second, Backoff(1, base, max))
	assert.Equal(t, 240*time.Second, Backoff(2, base, max))
	assert.Equal(t, 480*time.Second, Backoff(3, base, max))
	assert.Equal(t, 960*time.Second, Backoff(4, base, max))
	assert.Equal(t, 1920*time.Second, Backoff(5, base, max))
	assert.Equal(t, time.Hour, Backoff(6, base, max))
	assert.Equal(t, time.Hour, Backoff(20, base, max))
}

func TestBackoff_ExtremeAttemptsDoNotOverflow(t *testing.T) {
	assert.Equal(t, time.Hour, Backoff(64, 60*time.Second, time.Hour))
	assert.Equal(t, 60*time.Second, Backoff(-1, 60*time.Second, time.Hour))
}

// ==================== RunOnce Tests ====================

func TestRunOnce_RecoversDelivery(t *testing.T) {
	d := setupRetryScheduler(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	delivery := failedDelivery(2)

	d.sweepLock.EXPECT().TryAcquire(ctx, gomock.Any(), 55*time.Second).Return(true, nil)
	d.sweepLock.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)
	d.deliveryRepo.EXPECT().ListDue(ctx, gomock.Any(), 50).Return([]domain.WebhookDelivery{delivery}, nil)
	d.deliveryRepo.EXPECT().Update(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, del *domain.WebhookDelivery) error {
			assert.Equal(t, domain.DeliveryStatusDelivered, del.Status)
			assert.Nil(t, del.NextAttemptAt)
			assert.Nil(t, del.LastError)
			require.NotNil(t, del.DeliveredAt)
			return nil
		})

	result, err := d.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	// The re-delivery carries a signature over the original payload.
	require.Len(t, d.client.requests, 1)
	req := d.client.requests[0]
	assert.Equal(t, "http://merchant.test/webhooks", req.URL.String())
	sig := req.Header.Get("x-webhook-signature")
	assert.True(t, NewHMACSignatureService().Verify("whsec_test", delivery.Payload, sig))
}

func TestRunOnce_FailureReschedulesWithBackoff(t *testing.T) {
	d := setupRetryScheduler(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.client.statuses = []int{http.StatusBadGateway}
	delivery := failedDelivery(1)

	d.sweepLock.EXPECT().TryAcquire(ctx, gomock.Any(), gomock.Any()).Return(true, nil)
	d.sweepLock.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)
	d.deliveryRepo.EXPECT().ListDue(ctx, gomock.Any(), 50).Return([]domain.WebhookDelivery{delivery}, nil)
	d.deliveryRepo.EXPECT().Update(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, del *domain.WebhookDelivery) error {
			assert.Equal(t, domain.DeliveryStatusFailed, del.Status)
			assert.Equal(t, 2, del.Attempts)
			require.NotNil(t, del.NextAttemptAt)
			// attempts=2 after increment: 60s << 2 = 240s out.
			gap := del.NextAttemptAt.Sub(del.UpdatedAt)
			assert.Equal(t, 240*time.Second, gap)
			return nil
		})

	result, err := d.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Abandoned)
}

func TestRunOnce_ExhaustedDeliveryAbandoned(t *testing.T) {
	d := setupRetryScheduler(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.client.statuses = []int{http.StatusInternalServerError}
	delivery := failedDelivery(4) // one attempt left of 5

	d.sweepLock.EXPECT().TryAcquire(ctx, gomock.Any(), gomock.Any()).Return(true, nil)
	d.sweepLock.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)
	d.deliveryRepo.EXPECT().ListDue(ctx, gomock.Any(), 50).Return([]domain.WebhookDelivery{delivery}, nil)
	d.audit.EXPECT().Log(ctx, gomock.Any()).
		Do(func(_ context.Context, entry *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionDeliveryAbandoned, entry.Action)
		})
	d.deliveryRepo.EXPECT().Update(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, del *domain.WebhookDelivery) error {
			assert.Equal(t, domain.DeliveryStatusAbandoned, del.Status)
			assert.Equal(t, 5, del.Attempts)
			assert.Nil(t, del.NextAttemptAt)
			return nil
		})

	result, err := d.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Abandoned)
}

func TestRunOnce_LeaseHeldElsewhereSkips(t *testing.T) {
	d := setupRetryScheduler(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.sweepLock.EXPECT().TryAcquire(ctx, gomock.Any(), gomock.Any()).Return(false, nil)

	result, err := d.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, d.client.requests)
}

func TestRunOnce_MixedBatch(t *testing.T) {
	d := setupRetryScheduler(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	// First delivery recovers, second fails and reschedules.
	d.client.statuses = []int{http.StatusOK, http.StatusServiceUnavailable}
	first := failedDelivery(1)
	second := failedDelivery(2)
	second.ID = uuid.New()

	d.sweepLock.EXPECT().TryAcquire(ctx, gomock.Any(), gomock.Any()).Return(true, nil)
	d.sweepLock.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)
	d.deliveryRepo.EXPECT().ListDue(ctx, gomock.Any(), 50).Return([]domain.WebhookDelivery{first, second}, nil)
	d.deliveryRepo.EXPECT().Update(ctx, gomock.Any()).Return(nil).Times(2)

	result, err := d.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
}

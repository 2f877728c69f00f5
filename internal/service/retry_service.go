package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Backoff returns the delay before the next attempt as a pure function of the
// attempt count: min(2^attempts * base, max).
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^attempts overflows a Duration well before attempts reaches 62.
	if attempts > 30 {
		return max
	}
	d := base * (1 << uint(attempts))
	if d > max {
		return max
	}
	return d
}

// RetryScheduler implements ports.RetryService. Each run is a bounded,
// stateless sweep over due failed deliveries; overlapping runs are prevented
// by an in-process mutex plus a Redis lease, so two instances never process
// the same delivery concurrently.
type RetryScheduler struct {
	deliveryRepo ports.WebhookDeliveryRepository
	sweepLock    ports.SweepLock
	sigSvc       ports.SignatureService
	auditSvc     ports.AuditService
	httpClient   HTTPClient

	destinationURL string
	secret         string
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	batchSize      int
	leaseTTL       time.Duration

	owner string
	mu    sync.Mutex
	log   zerolog.Logger
	now   func() time.Time
}

// RetrySchedulerConfig holds the scheduler policy knobs.
type RetrySchedulerConfig struct {
	DestinationURL string
	Secret         string
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BatchSize      int
	LeaseTTL       time.Duration
}

// NewRetryScheduler creates a new RetryScheduler.
func NewRetryScheduler(
	deliveryRepo ports.WebhookDeliveryRepository,
	sweepLock ports.SweepLock,
	sigSvc ports.SignatureService,
	auditSvc ports.AuditService,
	httpClient HTTPClient,
	cfg RetrySchedulerConfig,
	log zerolog.Logger,
) *RetryScheduler {
	return &RetryScheduler{
		deliveryRepo:   deliveryRepo,
		sweepLock:      sweepLock,
		sigSvc:         sigSvc,
		auditSvc:       auditSvc,
		httpClient:     httpClient,
		destinationURL: cfg.DestinationURL,
		secret:         cfg.Secret,
		maxAttempts:    cfg.MaxAttempts,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		batchSize:      cfg.BatchSize,
		leaseTTL:       cfg.LeaseTTL,
		owner:          uuid.New().String(),
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce sweeps due failed deliveries once. A sweep already in progress, in
// this process or elsewhere, makes the call a no-op with zero counts.
func (s *RetryScheduler) RunOnce(ctx context.Context) (*ports.SweepResult, error) {
	if !s.mu.TryLock() {
		s.log.Debug().Msg("retry sweep already running in-process, skipping")
		return &ports.SweepResult{}, nil
	}
	defer s.mu.Unlock()

	if s.sweepLock != nil {
		acquired, err := s.sweepLock.TryAcquire(ctx, s.owner, s.leaseTTL)
		if err != nil {
			return nil, apperror.ErrLockTimeout(fmt.Errorf("acquire sweep lease: %w", err))
		}
		if !acquired {
			s.log.Debug().Msg("retry sweep lease held elsewhere, skipping")
			return &ports.SweepResult{}, nil
		}
		defer func() {
			if err := s.sweepLock.Release(context.WithoutCancel(ctx), s.owner); err != nil {
				s.log.Warn().Err(err).Msg("failed to release sweep lease")
			}
		}()
	}

	now := s.now()
	due, err := s.deliveryRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("list due deliveries: %w", err))
	}

	result := &ports.SweepResult{}
	for i := range due {
		delivery := &due[i]
		result.Processed++

		if err := s.attempt(ctx, delivery); err == nil {
			result.Succeeded++
			continue
		}

		if delivery.Status == domain.DeliveryStatusAbandoned {
			result.Abandoned++
		} else {
			result.Failed++
		}
	}

	s.log.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("abandoned", result.Abandoned).
		Msg("retry sweep complete")

	return result, nil
}

// attempt re-delivers one webhook and records the outcome on the delivery row.
func (s *RetryScheduler) attempt(ctx context.Context, delivery *domain.WebhookDelivery) error {
	deliverErr := s.deliver(ctx, delivery.Payload)
	now := s.now()

	if deliverErr == nil {
		delivery.Status = domain.DeliveryStatusDelivered
		delivery.DeliveredAt = &now
		delivery.LastError = nil
		delivery.NextAttemptAt = nil
		delivery.UpdatedAt = now
		if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
			s.log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("failed to mark delivery delivered")
			return err
		}
		s.log.Info().
			Str("delivery_id", delivery.ID.String()).
			Int("attempts", delivery.Attempts).
			Msg("webhook delivery recovered")
		return nil
	}

	delivery.Attempts++
	errText := deliverErr.Error()
	delivery.LastError = &errText
	delivery.UpdatedAt = now

	if delivery.Attempts >= s.maxAttempts {
		delivery.Status = domain.DeliveryStatusAbandoned
		delivery.NextAttemptAt = nil
		s.auditAbandoned(ctx, delivery)
	} else {
		delivery.Status = domain.DeliveryStatusFailed
		next := now.Add(Backoff(delivery.Attempts, s.baseDelay, s.maxDelay))
		delivery.NextAttemptAt = &next
	}

	if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
		s.log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("failed to record delivery failure")
	}

	s.log.Warn().
		Err(deliverErr).
		Str("delivery_id", delivery.ID.String()).
		Int("attempts", delivery.Attempts).
		Str("status", string(delivery.Status)).
		Msg("webhook delivery attempt failed")

	return deliverErr
}

// deliver POSTs the original payload to the configured destination with the
// original signature header. Any non-2xx response counts as a failure.
func (s *RetryScheduler) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.destinationURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-webhook-signature", s.sigSvc.Sign(s.secret, payload))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("destination returned %d", resp.StatusCode)
	}
	return nil
}

func (s *RetryScheduler) auditAbandoned(ctx context.Context, delivery *domain.WebhookDelivery) {
	if s.auditSvc == nil {
		return
	}
	details, _ := json.Marshal(map[string]interface{}{
		"event_id":   delivery.EventID,
		"event_type": delivery.EventType,
		"attempts":   delivery.Attempts,
		"last_error": delivery.LastError,
	})
	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionDeliveryAbandoned,
		ResourceType: "webhook_delivery",
		ResourceID:   delivery.ID.String(),
		Details:      string(details),
		CreatedAt:    s.now(),
	})
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// eventEnvelope is the inbound wire format.
type eventEnvelope struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	EventID   string          `json:"event_id"`
}

// paymentEventData is the data section of payment.* events.
type paymentEventData struct {
	ExternalPaymentID string `json:"external_payment_id"`
}

// WebhookDispatcher implements ports.WebhookService: verify, dedup by event
// id, persist event and delivery atomically, route to a payment-state
// handler, and record the delivery outcome.
type WebhookDispatcher struct {
	eventRepo    ports.WebhookEventRepository
	deliveryRepo ports.WebhookDeliveryRepository
	paymentRepo  ports.PaymentRepository
	sigSvc       ports.SignatureService
	transactor   ports.DBTransactor
	auditSvc     ports.AuditService

	secret      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	log zerolog.Logger
	now func() time.Time
}

// NewWebhookDispatcher creates a new WebhookDispatcher.
func NewWebhookDispatcher(
	eventRepo ports.WebhookEventRepository,
	deliveryRepo ports.WebhookDeliveryRepository,
	paymentRepo ports.PaymentRepository,
	sigSvc ports.SignatureService,
	transactor ports.DBTransactor,
	auditSvc ports.AuditService,
	secret string,
	maxAttempts int,
	baseDelay time.Duration,
	maxDelay time.Duration,
	log zerolog.Logger,
) *WebhookDispatcher {
	return &WebhookDispatcher{
		eventRepo:    eventRepo,
		deliveryRepo: deliveryRepo,
		paymentRepo:  paymentRepo,
		sigSvc:       sigSvc,
		transactor:   transactor,
		auditSvc:     auditSvc,
		secret:       secret,
		maxAttempts:  maxAttempts,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent processes one raw inbound event. Re-delivery of an already
// stored event id short-circuits successfully, so sender retries never
// double-apply a payment status transition.
func (d *WebhookDispatcher) HandleEvent(ctx context.Context, rawPayload []byte, signature string) error {
	if signature == "" {
		return apperror.ErrMissingSignature()
	}
	if !d.sigSvc.Verify(d.secret, rawPayload, signature) {
		return apperror.ErrInvalidSignature()
	}

	var env eventEnvelope
	if err := json.Unmarshal(rawPayload, &env); err != nil {
		return apperror.Validation("malformed event payload")
	}
	if env.EventID == "" {
		return apperror.Validation("event_id is required")
	}

	existing, err := d.eventRepo.GetByEventID(ctx, env.EventID)
	if err != nil {
		return apperror.ErrStorage(fmt.Errorf("lookup event: %w", err))
	}
	if existing != nil {
		d.log.Info().Str("event_id", env.EventID).Msg("duplicate webhook event, acknowledging")
		return nil
	}

	now := d.now()
	event := &domain.WebhookEvent{
		EventID:   env.EventID,
		EventType: env.EventType,
		Payload:   rawPayload,
		Signature: signature,
		CreatedAt: now,
	}
	delivery := &domain.WebhookDelivery{
		ID:        uuid.New(),
		EventID:   env.EventID,
		EventType: env.EventType,
		Payload:   rawPayload,
		Status:    domain.DeliveryStatusPending,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Event and delivery rows commit atomically: either both exist or neither.
	dbTx, err := d.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrStorage(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := d.eventRepo.Create(ctx, dbTx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// Lost a first-delivery race on the event id; the winner owns it.
			d.log.Info().Str("event_id", env.EventID).Msg("duplicate webhook event, acknowledging")
			return nil
		}
		return apperror.ErrStorage(fmt.Errorf("store event: %w", err))
	}
	if err := d.deliveryRepo.Create(ctx, dbTx, delivery); err != nil {
		return apperror.ErrStorage(fmt.Errorf("store delivery: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrStorage(fmt.Errorf("commit event: %w", err))
	}

	d.audit(ctx, domain.AuditActionWebhookReceived, env.EventID, map[string]interface{}{
		"event_type": env.EventType,
	})

	handlerErr := d.route(ctx, env.EventType, env.Data)
	if handlerErr == nil {
		return d.markDelivered(ctx, event, delivery)
	}
	return d.markFailed(ctx, delivery, handlerErr)
}

// route dispatches by event type. Unknown types are logged and acknowledged,
// never treated as errors.
func (d *WebhookDispatcher) route(ctx context.Context, eventType string, data json.RawMessage) error {
	switch eventType {
	case domain.EventPaymentSucceeded:
		return d.applyPaymentStatus(ctx, data, domain.PaymentStatusSucceeded)
	case domain.EventPaymentFailed:
		return d.applyPaymentStatus(ctx, data, domain.PaymentStatusFailed)
	case domain.EventPaymentRefunded:
		return d.applyPaymentStatus(ctx, data, domain.PaymentStatusRefunded)
	case domain.EventPaymentCancelled:
		return d.applyPaymentStatus(ctx, data, domain.PaymentStatusCancelled)
	default:
		d.log.Info().Str("event_type", eventType).Msg("unknown webhook event type, acknowledging")
		return nil
	}
}

// applyPaymentStatus updates the correlated payment under a row lock, so two
// events resolving to the same payment serialize their mutation in arrival
// order.
func (d *WebhookDispatcher) applyPaymentStatus(ctx context.Context, data json.RawMessage, status domain.PaymentStatus) error {
	var pd paymentEventData
	if err := json.Unmarshal(data, &pd); err != nil {
		return fmt.Errorf("parse event data: %w", err)
	}
	if pd.ExternalPaymentID == "" {
		return fmt.Errorf("event data missing external_payment_id")
	}

	dbTx, err := d.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	payment, err := d.paymentRepo.GetByExternalIDForUpdate(ctx, dbTx, pd.ExternalPaymentID)
	if err != nil {
		return fmt.Errorf("lock payment: %w", err)
	}
	if payment == nil {
		return fmt.Errorf("no payment with external id %q", pd.ExternalPaymentID)
	}

	if !domain.ValidStatusTransition(payment.Status, status) {
		// Out-of-order or repeated notification; the current state wins.
		d.log.Warn().
			Str("payment_id", payment.ID.String()).
			Str("current", string(payment.Status)).
			Str("requested", string(status)).
			Msg("ignoring invalid payment status transition")
		return dbTx.Commit(ctx)
	}

	if err := d.paymentRepo.UpdateStatus(ctx, dbTx, payment.ID, status); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}

	d.audit(ctx, domain.AuditActionPaymentStatusChange, payment.ID.String(), map[string]interface{}{
		"from": string(payment.Status),
		"to":   string(status),
	})

	return nil
}

func (d *WebhookDispatcher) markDelivered(ctx context.Context, event *domain.WebhookEvent, delivery *domain.WebhookDelivery) error {
	now := d.now()
	if err := d.eventRepo.MarkProcessed(ctx, event.EventID, now); err != nil {
		d.reschedule(ctx, delivery, fmt.Errorf("mark event processed: %w", err))
		return apperror.ErrStorage(fmt.Errorf("mark event processed: %w", err))
	}

	delivery.Status = domain.DeliveryStatusDelivered
	delivery.DeliveredAt = &now
	delivery.UpdatedAt = now
	if err := d.deliveryRepo.Update(ctx, delivery); err != nil {
		delivery.DeliveredAt = nil
		d.reschedule(ctx, delivery, fmt.Errorf("mark delivery delivered: %w", err))
		return apperror.ErrStorage(fmt.Errorf("mark delivery delivered: %w", err))
	}

	d.log.Info().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Msg("webhook event processed")
	return nil
}

// reschedule hands a delivery whose terminal bookkeeping failed back to the
// sweeper. Without it the row would stay pending with no next attempt time
// and never show up in a due batch again. Best effort; failures are logged.
func (d *WebhookDispatcher) reschedule(ctx context.Context, delivery *domain.WebhookDelivery, cause error) {
	now := d.now()
	errText := cause.Error()
	delivery.Status = domain.DeliveryStatusFailed
	delivery.LastError = &errText
	next := now.Add(Backoff(delivery.Attempts, d.baseDelay, d.maxDelay))
	delivery.NextAttemptAt = &next
	delivery.UpdatedAt = now

	if err := d.deliveryRepo.Update(ctx, delivery); err != nil {
		d.log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("failed to reschedule delivery")
	}
}

// markFailed records the handler failure and hands the delivery to the retry
// state machine: backoff-scheduled if attempts remain, abandoned otherwise.
func (d *WebhookDispatcher) markFailed(ctx context.Context, delivery *domain.WebhookDelivery, handlerErr error) error {
	now := d.now()
	errText := handlerErr.Error()
	delivery.LastError = &errText
	delivery.UpdatedAt = now

	if delivery.Attempts >= d.maxAttempts {
		delivery.Status = domain.DeliveryStatusAbandoned
		delivery.NextAttemptAt = nil
	} else {
		delivery.Status = domain.DeliveryStatusFailed
		next := now.Add(Backoff(delivery.Attempts, d.baseDelay, d.maxDelay))
		delivery.NextAttemptAt = &next
	}

	if err := d.deliveryRepo.Update(ctx, delivery); err != nil {
		d.log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("failed to record delivery failure")
	}

	d.log.Warn().
		Err(handlerErr).
		Str("event_id", delivery.EventID).
		Str("status", string(delivery.Status)).
		Msg("webhook handler failed")

	return apperror.ErrWebhookProcessing(handlerErr)
}

func (d *WebhookDispatcher) audit(ctx context.Context, action domain.AuditAction, resourceID string, details map[string]interface{}) {
	if d.auditSvc == nil {
		return
	}
	detailsJSON, _ := json.Marshal(details)
	d.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       action,
		ResourceType: "webhook_event",
		ResourceID:   resourceID,
		Details:      string(detailsJSON),
		CreatedAt:    d.now(),
	})
}

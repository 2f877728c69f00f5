package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaymentServiceImpl implements ports.PaymentService. Intake follows the
// scoped-acquisition discipline: once the ledger grants Proceed, Release runs
// on every exit path, so a downstream fault can never leave a key locked.
type PaymentServiceImpl struct {
	paymentRepo ports.PaymentRepository
	ledger      ports.IdempotencyLedger
	gateway     ports.Gateway
	transactor  ports.DBTransactor
	auditSvc    ports.AuditService
	currencies  []string
	log         zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	paymentRepo ports.PaymentRepository,
	ledger ports.IdempotencyLedger,
	gateway ports.Gateway,
	transactor ports.DBTransactor,
	auditSvc ports.AuditService,
	currencies []string,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		paymentRepo: paymentRepo,
		ledger:      ledger,
		gateway:     gateway,
		transactor:  transactor,
		auditSvc:    auditSvc,
		currencies:  currencies,
		log:         log,
	}
}

// CreatePayment validates, acquires the idempotency lock, creates the payment
// and invokes the gateway, then releases the lock with the externally visible
// response.
func (s *PaymentServiceImpl) CreatePayment(ctx context.Context, idempotencyKey string, req ports.CreatePaymentRequest) (*ports.PaymentResult, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if !s.currencySupported(req.Currency) {
		return nil, apperror.ErrUnsupportedCurrency(req.Currency)
	}

	requestHash := domain.HashRequest(req.RawBody)

	acq, err := s.ledger.Acquire(ctx, idempotencyKey, requestHash)
	if err != nil {
		return nil, err
	}

	switch acq.Outcome {
	case ports.AcquireReplay:
		return &ports.PaymentResult{Body: acq.Body, Status: acq.Status, Replayed: true}, nil
	case ports.AcquireConflictMismatch:
		return nil, apperror.ErrIdempotencyKeyReuse()
	case ports.AcquireConflictProcessing:
		return nil, apperror.ErrIdempotencyInFlight()
	}

	// Proceed: from here on the lock is held and must be released exactly
	// once, whatever happens downstream.
	payment, procErr := s.process(ctx, idempotencyKey, req)

	body, status := s.buildResponse(payment, procErr)
	if relErr := s.ledger.Release(ctx, acq.Lock, body, status); relErr != nil {
		// The response is computed and returned regardless; the stale-lock
		// takeover policy covers the record if this write was lost.
		s.log.Error().Err(relErr).Str("key", idempotencyKey).Msg("failed to release idempotency lock")
	}

	if procErr != nil {
		return nil, procErr
	}

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Int64("amount_minor_units", payment.AmountMinorUnits).
		Str("currency", payment.Currency).
		Str("status", string(payment.Status)).
		Msg("payment created")

	return &ports.PaymentResult{Payment: payment, Body: body, Status: status}, nil
}

// process persists the pending payment, invokes the gateway, and persists the
// outcome — all in one database transaction.
func (s *PaymentServiceImpl) process(ctx context.Context, idempotencyKey string, req ports.CreatePaymentRequest) (*domain.Payment, error) {
	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:               uuid.New(),
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Status:           domain.PaymentStatusPending,
		PaymentMethod:    req.PaymentMethod,
		IdempotencyKey:   idempotencyKey,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.paymentRepo.Create(ctx, dbTx, payment); err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("create payment: %w", err))
	}

	gw, err := s.gateway.Charge(ctx, payment)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("gateway charge: %w", err))
	}

	if err := s.paymentRepo.UpdateOutcome(ctx, dbTx, payment.ID, gw.Status, gw.ExternalPaymentID); err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("persist gateway outcome: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("commit tx: %w", err))
	}

	payment.Status = gw.Status
	payment.ExternalPaymentID = &gw.ExternalPaymentID
	payment.UpdatedAt = time.Now().UTC()

	s.audit(ctx, domain.AuditActionPaymentCreated, payment.ID.String(), map[string]interface{}{
		"amount_minor_units": payment.AmountMinorUnits,
		"currency":           payment.Currency,
	})
	s.audit(ctx, domain.AuditActionGatewayOutcome, payment.ID.String(), map[string]interface{}{
		"status":              string(gw.Status),
		"external_payment_id": gw.ExternalPaymentID,
		"reason":              gw.Reason,
	})

	return payment, nil
}

// GetPayment fetches a payment by id.
func (s *PaymentServiceImpl) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrStorage(fmt.Errorf("get payment: %w", err))
	}
	if payment == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	return payment, nil
}

// buildResponse composes the externally visible response stored in the ledger.
// Replays must be byte-identical, so the same bytes serve the live response.
func (s *PaymentServiceImpl) buildResponse(payment *domain.Payment, procErr error) ([]byte, int) {
	if procErr != nil {
		var appErr *apperror.AppError
		if !errors.As(procErr, &appErr) {
			appErr = apperror.InternalError(procErr)
		}
		body, _ := json.Marshal(map[string]string{
			"error_code": appErr.Code,
			"error":      appErr.Message,
		})
		return body, appErr.HTTPStatus
	}

	body, _ := json.Marshal(payment)
	return body, http.StatusCreated
}

func (s *PaymentServiceImpl) currencySupported(currency string) bool {
	for _, c := range s.currencies {
		if c == currency {
			return true
		}
	}
	return false
}

func (s *PaymentServiceImpl) audit(ctx context.Context, action domain.AuditAction, resourceID string, details map[string]interface{}) {
	if s.auditSvc == nil {
		return
	}
	detailsJSON, _ := json.Marshal(details)
	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       action,
		ResourceType: "payment",
		ResourceID:   resourceID,
		Details:      string(detailsJSON),
		CreatedAt:    time.Now().UTC(),
	})
}

package handler

import (
	"bytes"
	"io"

	"payhub/internal/adapter/http/dto"
	"payhub/internal/adapter/http/middleware"
	"payhub/internal/core/domain"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"
	"payhub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles payment intake and lookup endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// CreatePayment handles POST /api/v1/payments. The Idempotency-Key header is
// mandatory; the raw body bytes feed the ledger's request hash, so the exact
// bytes are captured before binding.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	key := c.GetHeader(middleware.HeaderIdempotencyKey)
	if key == "" {
		response.Error(c, apperror.ErrMissingIdempotencyKey())
		return
	}

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(rawBody))

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.paymentSvc.CreatePayment(c.Request.Context(), key, ports.CreatePaymentRequest{
		AmountMinorUnits: req.Amount,
		Currency:         req.Currency,
		PaymentMethod:    req.PaymentMethod,
		Metadata:         req.Metadata,
		RawBody:          rawBody,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// Fresh and replayed responses go out through the same raw path so a
	// replay is byte-identical to the original.
	response.Raw(c, result.Status, result.Body)
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("payment id must be a UUID"))
		return
	}

	payment, err := h.paymentSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if payment == nil {
		response.Error(c, apperror.ErrNotFound("payment"))
		return
	}

	response.OK(c, toPaymentResponse(payment))
}

// toPaymentResponse converts domain.Payment to DTO.
func toPaymentResponse(p *domain.Payment) dto.PaymentResponse {
	return dto.PaymentResponse{
		ID:                p.ID.String(),
		Amount:            p.AmountMinorUnits,
		Currency:          p.Currency,
		Status:            string(p.Status),
		PaymentMethod:     p.PaymentMethod,
		ExternalPaymentID: p.ExternalPaymentID,
		Metadata:          p.Metadata,
		CreatedAt:         p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:         p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

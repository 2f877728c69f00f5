package handler

import (
	"time"

	"payhub/internal/adapter/http/dto"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"
	"payhub/pkg/response"

	"github.com/gin-gonic/gin"
)

// InternalHandler handles operator-facing endpoints: retry sweeps and
// reconciliation.
type InternalHandler struct {
	retrySvc ports.RetryService
	reconSvc ports.ReconciliationService
}

// NewInternalHandler creates a new InternalHandler.
func NewInternalHandler(retrySvc ports.RetryService, reconSvc ports.ReconciliationService) *InternalHandler {
	return &InternalHandler{retrySvc: retrySvc, reconSvc: reconSvc}
}

// RetryWebhooks handles POST /api/v1/internal/retry-webhooks. It triggers one
// sweep and reports the counts; an already-running sweep returns zero counts.
func (h *InternalHandler) RetryWebhooks(c *gin.Context) {
	result, err := h.retrySvc.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, result)
}

// UploadRecords handles POST /api/v1/internal/reconciliation/records.
func (h *InternalHandler) UploadRecords(c *gin.Context) {
	var req dto.ReconciliationUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	uploads := make([]ports.ReconciliationUpload, 0, len(req.Records))
	for _, rec := range req.Records {
		txDate, err := time.Parse(time.RFC3339, rec.TransactionDate)
		if err != nil {
			response.Error(c, apperror.Validation("transaction_date must be RFC 3339"))
			return
		}
		uploads = append(uploads, ports.ReconciliationUpload{
			ExternalTransactionID: rec.ExternalTransactionID,
			AmountMinorUnits:      rec.Amount,
			Currency:              rec.Currency,
			TransactionDate:       txDate,
		})
	}

	count, err := h.reconSvc.Ingest(c.Request.Context(), uploads)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ReconciliationUploadResponse{Ingested: count})
}

// RunReconciliation handles POST /api/v1/internal/reconciliation/run.
func (h *InternalHandler) RunReconciliation(c *gin.Context) {
	summary, err := h.reconSvc.Match(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, summary)
}

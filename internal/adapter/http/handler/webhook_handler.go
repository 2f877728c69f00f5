package handler

import (
	"io"

	"payhub/internal/adapter/http/middleware"
	"payhub/internal/core/ports"
	"payhub/pkg/apperror"
	"payhub/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler handles the inbound signed event endpoint.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// ReceiveEvent handles POST /api/v1/webhooks. The signature covers the exact
// raw body bytes, so the body is passed through unparsed.
func (h *WebhookHandler) ReceiveEvent(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	signature := c.GetHeader(middleware.HeaderWebhookSignature)

	if err := h.webhookSvc.HandleEvent(c.Request.Context(), rawBody, signature); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"received": true})
}

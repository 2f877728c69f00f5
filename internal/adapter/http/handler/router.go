package handler

import (
	"payhub/internal/adapter/http/middleware"
	redisStore "payhub/internal/adapter/storage/redis"
	"payhub/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc     ports.PaymentService
	WebhookSvc     ports.WebhookService
	RetrySvc       ports.RetryService
	ReconSvc       ports.ReconciliationService
	TokenSvc       ports.TokenService
	HashSvc        ports.HashService
	UploadKeyHash  string
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Payment intake and lookup ---
	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	payments := v1.Group("/payments")
	{
		payments.POST("", rl("payments"), paymentHandler.CreatePayment)
		payments.GET("/:id", paymentHandler.GetPayment)
	}

	// --- Inbound signed events (signature is the auth) ---
	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	v1.POST("/webhooks", rl("webhooks"), webhookHandler.ReceiveEvent)

	// --- Internal operator endpoints ---
	internalHandler := NewInternalHandler(deps.RetrySvc, deps.ReconSvc)
	serviceAuth := middleware.ServiceAuth(deps.TokenSvc, ports.ScopeInternal, deps.Logger)
	internal := v1.Group("/internal")
	{
		internal.POST("/retry-webhooks", serviceAuth, internalHandler.RetryWebhooks)

		recon := internal.Group("/reconciliation", middleware.APIKeyAuth(deps.HashSvc, deps.UploadKeyHash, deps.Logger))
		{
			recon.POST("/records", rl("reconciliation"), internalHandler.UploadRecords)
			recon.POST("/run", rl("reconciliation"), internalHandler.RunReconciliation)
		}
	}

	return r
}

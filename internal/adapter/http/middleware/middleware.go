package middleware

import (
	"net/http"
	"strings"
	"time"

	"payhub/internal/core/ports"
	"payhub/pkg/apperror"
	"payhub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// HeaderIdempotencyKey carries the caller-chosen idempotency key on
	// payment creation.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderWebhookSignature carries the HMAC signature of inbound events.
	HeaderWebhookSignature = "x-webhook-signature"
	// HeaderAPIKey authenticates reconciliation uploads.
	HeaderAPIKey = "X-Api-Key"

	// Context keys
	CtxServiceSubject = "service_subject"
)

// ServiceAuth validates Bearer service tokens for internal endpoints. Tokens
// must carry the required scope.
func ServiceAuth(tokenSvc ports.TokenService, requiredScope string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Error(c, apperror.ErrInvalidServiceToken())
			c.Abort()
			return
		}

		claims, err := tokenSvc.Validate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			response.Error(c, apperror.ErrInvalidServiceToken())
			c.Abort()
			return
		}
		if claims.Scope != requiredScope {
			log.Warn().
				Str("subject", claims.Subject).
				Str("scope", claims.Scope).
				Msg("service token missing required scope")
			response.Error(c, apperror.ErrInvalidServiceToken())
			c.Abort()
			return
		}

		c.Set(CtxServiceSubject, claims.Subject)
		c.Next()
	}
}

// APIKeyAuth verifies the X-Api-Key header against a stored Argon2id hash.
func APIKeyAuth(hashSvc ports.HashService, keyHash string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if key == "" || keyHash == "" {
			response.Error(c, apperror.ErrInvalidAPIKey())
			c.Abort()
			return
		}

		ok, err := hashSvc.Verify(key, keyHash)
		if err != nil {
			log.Error().Err(err).Msg("api key verification failed")
			response.Error(c, apperror.InternalError(err))
			c.Abort()
			return
		}
		if !ok {
			response.Error(c, apperror.ErrInvalidAPIKey())
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

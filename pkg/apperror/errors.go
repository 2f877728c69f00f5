package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) — never retried, surfaced to caller ----

func ErrInvalidAmount() *AppError {
	return New("VAL_001", "Amount must be a positive integer in minor units", http.StatusBadRequest)
}

func ErrUnsupportedCurrency(currency string) *AppError {
	return New("VAL_002", fmt.Sprintf("Currency %q is not supported", currency), http.StatusBadRequest)
}

func ErrMissingIdempotencyKey() *AppError {
	return New("VAL_003", "Idempotency-Key header is required", http.StatusBadRequest)
}

// Validation returns a generic validation error for malformed input.
func Validation(message string) *AppError {
	return New("VAL_000", message, http.StatusBadRequest)
}

// ---- Idempotency conflicts (IDEM) — surfaced as 409, never retried ----

func ErrIdempotencyInFlight() *AppError {
	return New("IDEM_001", "A request with this idempotency key is still being processed", http.StatusConflict)
}

func ErrIdempotencyKeyReuse() *AppError {
	return New("IDEM_002", "idempotency key conflict", http.StatusConflict)
}

// ---- Authentication (SEC) — surfaced as 401, never retried ----

func ErrMissingSignature() *AppError {
	return New("SEC_001", "Missing webhook signature", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrInvalidServiceToken() *AppError {
	return New("SEC_003", "Invalid or expired service token", http.StatusUnauthorized)
}

func ErrInvalidAPIKey() *AppError {
	return New("SEC_004", "Invalid API key", http.StatusUnauthorized)
}

// ---- Webhook delivery (WHK) ----

// ErrTransientDelivery marks a delivery failure the retry scheduler recovers
// from without caller involvement.
func ErrTransientDelivery(err error) *AppError {
	return Wrap("WHK_001", "Webhook delivery failed, will retry", http.StatusInternalServerError, err)
}

// ErrDeliveryAbandoned marks a delivery abandoned after exhausting attempts.
// Requires manual reprocessing.
func ErrDeliveryAbandoned(deliveryID string) *AppError {
	return New("WHK_002", fmt.Sprintf("Webhook delivery %s abandoned after max attempts", deliveryID), http.StatusInternalServerError)
}

func ErrWebhookProcessing(err error) *AppError {
	return Wrap("WHK_003", "Webhook processing failed", http.StatusInternalServerError, err)
}

// ---- Resources (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Rate limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & storage (SYS) ----

// ErrStorage wraps any persistence failure. In-flight ledger locks must still
// be released with an error response when this surfaces.
func ErrStorage(err error) *AppError {
	return Wrap("SYS_001", "Internal storage error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_000 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_000", "Internal server error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stable wire error codes surfaced to rider/driver clients over the
// socket layer and the thin REST controllers (spec §6, §7).
const (
	ErrCodeDuplicateRideAttempt     = "DUPLICATE_RIDE_ATTEMPT"
	ErrCodeRideAlreadyAccepted      = "RIDE_ALREADY_ACCEPTED"
	ErrCodeRideNotAvailable         = "RIDE_NOT_AVAILABLE"
	ErrCodeRideAlreadyDone          = "RIDE_ALREADY_DONE"
	ErrCodeNoDriversFound           = "NO_DRIVERS_FOUND"
	ErrCodeNoDriverAcceptedTimeout  = "NO_DRIVER_ACCEPTED_TIMEOUT"
	ErrCodeRideCreationFailed       = "RIDE_CREATION_FAILED"
	ErrCodeRideAcceptanceFailed     = "RIDE_ACCEPTANCE_FAILED"
	ErrCodePaymentNotVerified       = "PAYMENT_NOT_VERIFIED"
	ErrCodePaymentAmountMismatch    = "PAYMENT_AMOUNT_MISMATCH"
	ErrCodePaymentAmountInvalid     = "PAYMENT_AMOUNT_INVALID"
	ErrCodePaymentVerificationFailed = "PAYMENT_VERIFICATION_FAILED"
	ErrCodeInvalidOTP               = "INVALID_OTP"
	ErrCodeValidation                = "VALIDATION_ERROR"
	ErrCodeNotFound                  = "NOT_FOUND"
	ErrCodeUnauthorized              = "UNAUTHORIZED"
	ErrCodeForbidden                 = "FORBIDDEN"
	ErrCodeConflict                  = "CONFLICT"
	ErrCodeInternal                  = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable        = "SERVICE_UNAVAILABLE"
)

// AppError is the application-wide error type carrying a stable wire code,
// a human-readable message, and the HTTP status it maps to. Server-side
// detail never traverses the wire (§7 "User-visible").
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	RideID     string `json:"rideId,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

// NewErrorWithCode builds an AppError with an explicit wire code and HTTP
// status, for cases the convenience constructors below don't cover.
func NewErrorWithCode(statusCode int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// NewBadRequestError reports a validation failure.
func NewBadRequestError(message string) *AppError {
	return NewErrorWithCode(http.StatusBadRequest, ErrCodeValidation, message)
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(message string) *AppError {
	return NewErrorWithCode(http.StatusNotFound, ErrCodeNotFound, message)
}

// NewUnauthorizedError reports a missing or invalid credential.
func NewUnauthorizedError(message string) *AppError {
	return NewErrorWithCode(http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// NewForbiddenError reports an authenticated caller lacking permission.
func NewForbiddenError(message string) *AppError {
	return NewErrorWithCode(http.StatusForbidden, ErrCodeForbidden, message)
}

// NewConflictError reports a precondition violated on re-read (§7.2
// Concurrency), e.g. a ride no longer in the expected state.
func NewConflictError(message string) *AppError {
	return NewErrorWithCode(http.StatusConflict, ErrCodeConflict, message)
}

// NewInternalError reports an unexpected server-side failure.
func NewInternalError(message string) *AppError {
	return NewErrorWithCode(http.StatusInternalServerError, ErrCodeInternal, message)
}

// NewInternalServerError is an alias of NewInternalError kept for call
// sites that predate the NewInternalError naming.
func NewInternalServerError(message string) *AppError {
	return NewInternalError(message)
}

// NewServiceUnavailableError reports a dependency outage (circuit open,
// store unreachable); callers should surface retryAfter when known.
func NewServiceUnavailableError(message string) *AppError {
	return NewErrorWithCode(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// AppErrorResponse writes an AppError to the gin response, never leaking
// stack traces or internal detail over the wire.
func AppErrorResponse(c *gin.Context, err *AppError) {
	c.JSON(err.StatusCode, gin.H{
		"success": false,
		"error":   err,
	})
}

// ErrorResponse writes a generic error without an AppError wrapper,
// using statusCode as the HTTP status.
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    ErrCodeInternal,
			"message": message,
		},
	})
}

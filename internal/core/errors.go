package core

import "fmt"

type ErrorCode string

const (
	ErrValidation            ErrorCode = "ATL_VALIDATION"
	ErrUnauthorized          ErrorCode = "ATL_UNAUTHORIZED"
	ErrNotFound              ErrorCode = "ATL_NOT_FOUND"
	ErrConflict              ErrorCode = "ATL_CONFLICT"
	ErrImmutabilityViolation ErrorCode = "ATL_IMMUTABILITY_VIOLATION"
	ErrRetentionPrecondition ErrorCode = "ATL_RETENTION_PRECONDITION"
	ErrIntegrityViolation    ErrorCode = "ATL_INTEGRITY_VIOLATION"
	ErrDeliveryExhausted     ErrorCode = "ATL_DELIVERY_EXHAUSTED"
	ErrInternal              ErrorCode = "ATL_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrValidation:
		return 400
	case ErrUnauthorized:
		return 403
	case ErrNotFound:
		return 404
	case ErrConflict, ErrImmutabilityViolation:
		return 409
	case ErrDeliveryExhausted:
		return 410
	case ErrRetentionPrecondition:
		return 412
	case ErrIntegrityViolation:
		return 422
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

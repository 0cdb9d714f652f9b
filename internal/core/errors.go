package core

import "fmt"

type ErrorCode string

const (
	ErrBadRequest       ErrorCode = "WCO_BAD_REQUEST"
	ErrNotFound         ErrorCode = "WCO_NOT_FOUND"
	ErrConflict         ErrorCode = "WCO_CONFLICT"
	ErrNotSupported     ErrorCode = "WCO_NOT_SUPPORTED"
	ErrBackendError     ErrorCode = "WCO_BACKEND_ERROR"
	ErrRetriesExhausted ErrorCode = "WCO_RETRIES_EXHAUSTED"
	ErrInternal         ErrorCode = "WCO_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrNotFound:
		return 404
	case ErrConflict:
		return 409
	case ErrNotSupported:
		return 501
	case ErrBackendError, ErrRetriesExhausted:
		return 502
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

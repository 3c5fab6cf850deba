package common

import (
	"errors"
	"net/http"
)

// AppError is an error that carries its own HTTP rendering.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError wraps cause with the status and code a client should see.
func NewAppError(status int, code, message string, cause error) *AppError {
	return &AppError{Status: status, Code: code, Message: message, Err: cause}
}

// WithDetails attaches a details payload and returns the same error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// AsAppError finds an AppError in err's chain. Anything else becomes a generic 500 with fallbackCode.
func AsAppError(err error, fallbackCode string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status > 0 {
		return appErr
	}
	return NewAppError(http.StatusInternalServerError, fallbackCode, "internal error", err)
}

package service

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal")
)

// ServiceError wraps a sentinel error with a message the gateway can put
// into an error ack.
type ServiceError struct {
	Err     error
	Message string
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

// NewError creates a ServiceError wrapping the given sentinel.
func NewError(sentinel error, message string) *ServiceError {
	return &ServiceError{Err: sentinel, Message: message}
}

// Convenience constructors for common error types.

func NotFound(message string) *ServiceError {
	return NewError(ErrNotFound, message)
}

func Forbidden(message string) *ServiceError {
	return NewError(ErrForbidden, message)
}

func BadRequest(message string) *ServiceError {
	return NewError(ErrBadRequest, message)
}

func Conflict(message string) *ServiceError {
	return NewError(ErrConflict, message)
}

func Unauthorized(message string) *ServiceError {
	return NewError(ErrUnauthorized, message)
}

func Internal(message string) *ServiceError {
	return NewError(ErrInternal, message)
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Status      int               `json:"status"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Err         error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned sentinels still compare.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound       = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrTaskNotFound   = New("task_not_found", http.StatusNotFound, "no such task")
	ErrForbidden      = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUserMismatch   = New("user_mismatch", http.StatusForbidden, "The user requested does not have the required permissions.")
	ErrUnauthorized   = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict       = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation     = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInvalidKey     = New("invalid_key", http.StatusBadRequest, "invalid key")
	ErrInternal       = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss      = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrNotConfigured  = New("NOT_CONFIGURED", http.StatusServiceUnavailable, "service not configured")
	ErrUnknownEvent   = New("UNKNOWN_EVENT", http.StatusBadRequest, "unknown event type")
	ErrQueueRejected  = New("QUEUE_REJECTED", http.StatusInternalServerError, "failed to enqueue task")
	ErrInvalidArchive = New("INVALID_ARCHIVE", http.StatusBadRequest, "archive is not a valid .tar.gz file")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithField returns a copy of err carrying a field-scoped message.
func WithField(err *Error, message, field, fieldMessage string) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	fields := make(map[string]string, len(clone.FieldErrors)+1)
	for k, v := range clone.FieldErrors {
		fields[k] = v
	}
	fields[field] = fieldMessage
	clone.FieldErrors = fields
	return clone
}

// IsStatus reports whether err normalises to the given HTTP status.
func IsStatus(err error, status int) bool {
	appErr := FromError(err)
	return appErr != nil && appErr.Status == status
}

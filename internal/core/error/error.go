package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// OracleErrorMessage describes completion-service failures.
	OracleErrorMessage = "oracle completion failed"
	// UnsafeSQLMessage describes a generated query rejected by validation.
	UnsafeSQLMessage = "generated SQL rejected by safety validation"
	// SearchErrorMessage describes vector-search failures.
	SearchErrorMessage = "vector search failed"
	// MissingDataMessage describes a required data file absent at startup.
	MissingDataMessage = "required data file not found"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Internal marks a condition that should be impossible given correct call
// ordering, e.g. a pipeline stage consuming context a prior stage never wrote.
func Internal(err error) *AppError {
	return New(err, http.StatusInternalServerError, SystemErrorMessage)
}

// UnsafeSQL wraps a rejected query so callers can report it as a tool failure
// for the turn without crashing the process.
func UnsafeSQL(sql string) *AppError {
	return New(fmt.Errorf("unsafe sql: %s", sql), http.StatusUnprocessableEntity, UnsafeSQLMessage)
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

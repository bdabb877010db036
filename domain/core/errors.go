package core

import (
	"errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes by failure class. Configuration and data errors are detected
// before any per-feature fitting and abort the run; numerical errors are
// recorded per feature and the batch proceeds.
const (
	CodeConfigInvalid  = "CONFIG_INVALID"
	CodeDataError      = "DATA_ERROR"
	CodeNumericalError = "NUMERICAL_ERROR"
	CodeStorageError   = "STORAGE_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeInternalError  = "INTERNAL_ERROR"
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, preserving an existing code
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the error code if it's an AppError, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// ConfigError reports an invalid model/test configuration (non-nested
// formulas, unknown names, missing covariates)
func ConfigError(format string, args ...interface{}) *AppError {
	return New(CodeConfigInvalid, fmt.Sprintf(format, args...))
}

// DataError reports inconsistent or incomplete input data
func DataError(format string, args ...interface{}) *AppError {
	return New(CodeDataError, fmt.Sprintf(format, args...))
}

// NumericalError reports a per-feature numerical failure (singular design,
// degenerate variance); callers record it and continue the batch
func NumericalError(format string, args ...interface{}) *AppError {
	return New(CodeNumericalError, fmt.Sprintf(format, args...))
}

// StorageError wraps a persistence failure
func StorageError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    CodeStorageError,
		Message: message,
		Cause:   err,
	}
}

// NotFound reports a missing named resource (model, test, sample)
func NotFound(resource, name string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s %q not found", resource, name))
}

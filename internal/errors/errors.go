// Package errors provides the structured error taxonomy shared by the fbdispatch workers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a write conflict with concurrent data.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodePreparation indicates invalid, missing or excessive input files for a job.
	ErrCodePreparation ErrorCode = "preparation"
	// ErrCodeAggregation indicates the document store rejected a result merge.
	ErrCodeAggregation ErrorCode = "aggregation"
	// ErrCodeExternalTool indicates the check engine or a diff tool failed.
	ErrCodeExternalTool ErrorCode = "external_tool"
	// ErrCodeTransport indicates the queue or blob store could not be reached.
	ErrCodeTransport ErrorCode = "transport"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific input that caused the error (optional)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code ErrorCode, format string, args ...any) *AppError {
	if len(args) == 0 {
		return &AppError{Code: code, Message: format}
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return newf(ErrCodeNotFound, format, args...)
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return newf(ErrCodeConflict, format, args...)
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return newf(ErrCodeValidation, format, args...)
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return newf(ErrCodeInternal, format, args...)
}

// Preparationf creates a PreparationError. Preparation errors are terminal for the sub-job.
func Preparationf(format string, args ...any) *AppError {
	return newf(ErrCodePreparation, format, args...)
}

// PreparationFile creates a PreparationError naming the offending file.
func PreparationFile(name, message string) *AppError {
	return &AppError{Code: ErrCodePreparation, Message: message, Field: name}
}

// Aggregationf creates an AggregationError.
func Aggregationf(format string, args ...any) *AppError {
	return newf(ErrCodeAggregation, format, args...)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsPreparation checks if an error is a PreparationError.
func IsPreparation(err error) bool {
	return isCode(err, ErrCodePreparation)
}

// IsAggregation checks if an error is an AggregationError.
func IsAggregation(err error) bool {
	return isCode(err, ErrCodeAggregation)
}

// IsExternalTool checks if an error is an ExternalToolError.
func IsExternalTool(err error) bool {
	return isCode(err, ErrCodeExternalTool)
}

// IsTransport checks if an error is a TransportError.
func IsTransport(err error) bool {
	return isCode(err, ErrCodeTransport)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

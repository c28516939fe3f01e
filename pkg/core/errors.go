package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: command_failed, template_too_large, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// Copies made with WithCause/WithMessage/WithDetails still match the
// predefined error they were derived from.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Device command errors
	ErrCommandFailed = &ExecutionError{
		Category: ErrCategoryCommand,
		Code:     "command_failed",
		Message:  "device command failed",
	}
	ErrSnapshotPathNotFound = &ExecutionError{
		Category: ErrCategoryCommand,
		Code:     "snapshot_path_not_found",
		Message:  "failed to find the snapshot file path in the output",
	}
	ErrNoTarget = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "no_target",
		Message:  "no connected device found",
	}
	ErrBridgeNotFound = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "bridge_not_found",
		Message:  "device bridge binary could not be started",
	}

	// Locator errors
	ErrImageDecode = &ExecutionError{
		Category: ErrCategoryImage,
		Code:     "image_decode",
		Message:  "failed to decode image",
	}
	ErrTemplateTooLarge = &ExecutionError{
		Category: ErrCategoryImage,
		Code:     "template_too_large",
		Message:  "template is larger than the screenshot",
	}
	ErrLowConfidence = &ExecutionError{
		Category: ErrCategoryImage,
		Code:     "low_confidence",
		Message:  "best template match is below the minimum score",
	}

	// Local file errors
	ErrIO = &ExecutionError{
		Category: ErrCategoryIO,
		Code:     "io",
		Message:  "file operation failed",
	}

	// Timeout errors
	ErrReadinessTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "readiness_timeout",
		Message:  "device did not become ready in time",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category
	}
	return ErrCategoryNone
}

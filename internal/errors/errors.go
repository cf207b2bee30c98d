// Package errors provides structured error types for the crmlake pipeline.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across stages, and carry enough structured
// context (object name, schema, table location) to diagnose state-machine
// failures without log archaeology.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline concern.
type ErrorCategory string

const (
	ErrCategorySchema  ErrorCategory = "SCHEMA"
	ErrCategoryMapping ErrorCategory = "MAPPING"
	ErrCategoryLoad    ErrorCategory = "LOAD"
	ErrCategoryPublish ErrorCategory = "PUBLISH"
	ErrCategoryCleanup ErrorCategory = "CLEANUP"
	ErrCategoryStorage ErrorCategory = "STORAGE"
	ErrCategoryState   ErrorCategory = "STATE"
)

// Error codes for each category.
const (
	// Schema codes
	CodeNotFound        = "NOT_FOUND"
	CodeMalformedSchema = "MALFORMED_SCHEMA"
	CodeNoIdentifier    = "NO_IDENTIFIER"

	// Mapping codes
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
	CodeUnknownType     = "UNKNOWN_TYPE"

	// Load codes
	CodeMissingIdentifier = "MISSING_IDENTIFIER"
	CodeValueConversion   = "VALUE_CONVERSION"

	// Publish codes
	CodeInconsistentState = "INCONSISTENT_STATE"

	// Cleanup codes
	CodeRemovalCapExceeded = "REMOVAL_CAP_EXCEEDED"

	// Storage codes
	CodeReadFailed  = "READ_FAILED"
	CodeWriteFailed = "WRITE_FAILED"

	// State codes
	CodeSchemaRace = "SCHEMA_RACE"
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable classifies codes whose failures are transient infrastructure
// conditions. Data inconsistency, validation failures, and safety-valve
// trips are never retryable with the same input.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeReadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeWriteFailed:
		return true
	case category == ErrCategoryState && code == CodeSchemaRace:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewSchemaError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategorySchema, code, message, cause)
}

func NewMappingError(code, message string) *PipelineError {
	return New(ErrCategoryMapping, code, message)
}

func NewLoadError(code, message string) *PipelineError {
	return New(ErrCategoryLoad, code, message)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryState, CodeUnexpected, message, cause)
}

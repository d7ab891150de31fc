package rag

import (
	"fmt"
)

// ErrorType categorizes pipeline errors for the API boundary.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeEmbedding  ErrorType = "embedding"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeCancelled  ErrorType = "cancelled"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common pipeline errors.
var (
	ErrDocumentEmpty    = NewError("document content is empty", ErrorTypeValidation)
	ErrDocumentNotFound = NewError("document not found", ErrorTypeNotFound)
	ErrDuplicateContent = NewError("document with identical content already indexed", ErrorTypeConflict)
	ErrQueryEmpty       = NewError("query text is empty", ErrorTypeValidation)
	ErrInvalidTopK      = NewError("topK must be positive", ErrorTypeValidation)
)

// Error is the structured error for the ingestion and retrieval
// pipeline.
type Error struct {
	Type      ErrorType         `json:"type"`
	Message   string            `json:"message"`
	Operation string            `json:"operation,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Cause     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("rag %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("rag: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on type and message so the sentinel values above work with
// errors.Is across WithOperation/WithCause copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// NewError creates a categorized pipeline error.
func NewError(message string, errorType ErrorType) *Error {
	return &Error{Type: errorType, Message: message}
}

// WithOperation returns a copy annotated with the failing operation.
func (e *Error) WithOperation(op string) *Error {
	clone := *e
	clone.Operation = op
	return &clone
}

// WithCause returns a copy wrapping the underlying error.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.Cause = cause
	return &clone
}

// WithDetails returns a copy carrying extra key/value context.
func (e *Error) WithDetails(details map[string]string) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// Package ragerr provides the typed error taxonomy shared by all doclens
// components. Adapters (store, llm) return these errors, services wrap them
// with context, and only the HTTP boundary converts kinds to status codes.
package ragerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary handling.
type Kind string

const (
	// KindValidation indicates input that fails schema or semantic rules.
	KindValidation Kind = "ValidationError"
	// KindFileUpload indicates a rejected upload (bad extension, size, duplicate).
	KindFileUpload Kind = "FileUploadError"
	// KindNotFound indicates an unknown document, model, or route.
	KindNotFound Kind = "NotFound"
	// KindRateLimit indicates the caller exceeded the request budget.
	KindRateLimit Kind = "RateLimitExceeded"
	// KindDocumentProcessing indicates unreadable or empty document content.
	KindDocumentProcessing Kind = "DocumentProcessingError"
	// KindChunking indicates a failure splitting extracted text.
	KindChunking Kind = "ChunkingError"
	// KindEmbedding indicates an upstream embedding failure.
	KindEmbedding Kind = "EmbeddingGenerationError"
	// KindOllamaConnection indicates the LLM server is unreachable.
	KindOllamaConnection Kind = "OllamaConnectionError"
	// KindDatabaseConnection indicates the store is unreachable or exhausted.
	KindDatabaseConnection Kind = "DatabaseConnectionError"
	// KindSearch indicates a retrieval failure.
	KindSearch Kind = "SearchError"
	// KindConfiguration indicates invalid startup configuration. Fatal.
	KindConfiguration Kind = "ConfigurationError"
)

// ReasonDuplicate marks a FileUploadError caused by a filename collision.
// Duplicate uploads map to 409 instead of the kind's default 400.
const ReasonDuplicate = "duplicate"

// Error is a structured error with kind, human message, optional details,
// and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail attaches a key/value pair, returning the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Detail returns the value stored under key, or nil.
func (e *Error) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// HTTPStatus returns the HTTP status for this error.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindFileUpload && e.Detail("reason") == ReasonDuplicate {
		return http.StatusConflict
	}
	return statusForKind(e.Kind)
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping a cause.
// Returns nil if cause is nil.
func Wrap(cause error, kind Kind, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation creates a ValidationError.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Validationf creates a ValidationError with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

// NotFound creates a NotFound error.
func NotFound(what string) *Error {
	return Newf(KindNotFound, "%s not found", what)
}

// Duplicate creates the FileUploadError used for filename collisions.
func Duplicate(filename string) *Error {
	return Newf(KindFileUpload, "document %q already exists", filename).
		WithDetail("reason", ReasonDuplicate).
		WithDetail("filename", filename)
}

// UploadRejected creates a FileUploadError for bad extension or size.
func UploadRejected(filename, why string) *Error {
	return Newf(KindFileUpload, "upload %q rejected: %s", filename, why).
		WithDetail("filename", filename)
}

// DocumentProcessing creates a DocumentProcessingError.
func DocumentProcessing(filename, reason string) *Error {
	return Newf(KindDocumentProcessing, "cannot process %q: %s", filename, reason).
		WithDetail("filename", filename)
}

// Chunking wraps a chunk-splitting failure.
func Chunking(cause error, filename string) *Error {
	return Wrap(cause, KindChunking, fmt.Sprintf("chunking %q failed", filename))
}

// Embedding creates an EmbeddingGenerationError with per-chunk counts.
func Embedding(message string, failed, total int) *Error {
	return New(KindEmbedding, message).
		WithDetail("failed_chunks", failed).
		WithDetail("total_chunks", total)
}

// OllamaConnection wraps an LLM server connectivity failure.
func OllamaConnection(cause error) *Error {
	return Wrap(cause, KindOllamaConnection, "LLM server unreachable")
}

// DatabaseConnection wraps a store connectivity failure.
func DatabaseConnection(cause error, op string) *Error {
	return Wrap(cause, KindDatabaseConnection, fmt.Sprintf("database %s failed", op))
}

// Search wraps a retrieval failure.
func Search(cause error, message string) *Error {
	return Wrap(cause, KindSearch, message)
}

// Configuration creates a ConfigurationError.
func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

// KindOf extracts the kind from any error in the chain.
// Errors without a typed kind report as SearchError-grade internal failures
// only at the HTTP boundary; here they return an empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusFor returns the HTTP status for any error: typed errors map per the
// taxonomy, everything else is a 500.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func statusForKind(kind Kind) int {
	switch kind {
	case KindValidation, KindFileUpload:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindDocumentProcessing:
		return http.StatusUnprocessableEntity
	case KindEmbedding:
		return http.StatusBadGateway
	case KindOllamaConnection, KindDatabaseConnection:
		return http.StatusServiceUnavailable
	case KindChunking, KindSearch, KindConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

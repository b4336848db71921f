package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrNoPDF indicates that retrieval exhausted every candidate without finding a PDF.
	ErrNoPDF = errors.New("no pdf found")

	// ErrNotPDF indicates that fetched content does not carry the PDF signature.
	ErrNotPDF = errors.New("content is not a pdf")

	// ErrCheckpointMismatch indicates that a checkpoint was written for a different query file.
	ErrCheckpointMismatch = errors.New("checkpoint does not match query definitions")
)

// ParseError reports a malformed query specification. It is fatal and
// raised before any network call.
type ParseError struct {
	Section int
	Line    int
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString("query spec")
	if e.Section > 0 {
		fmt.Fprintf(&sb, " section %d", e.Section)
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " line %d", e.Line)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ResolutionError reports an input (bibliography, file list) that could not
// be read. Only the offending input is skipped.
type ResolutionError struct {
	Input string
	Err   error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Input, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// RetrievalFailure reports that no PDF could be obtained for a document. The
// unit degrades to metadata-only.
type RetrievalFailure struct {
	DocumentID int
	Reason     string
}

// Error implements the error interface.
func (e *RetrievalFailure) Error() string {
	return fmt.Sprintf("document %d: no pdf retrieved: %s", e.DocumentID, e.Reason)
}

// Unwrap returns ErrNoPDF for use with errors.Is.
func (e *RetrievalFailure) Unwrap() error {
	return ErrNoPDF
}

// SchemaValidationError reports a model response that does not conform to the
// declared schema.
type SchemaValidationError struct {
	QueryID    int
	Violations []string
}

// Error implements the error interface.
func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("query %d: response violates schema: %s", e.QueryID, strings.Join(e.Violations, "; "))
}

// CheckpointIOError reports a failure to read or write durable state. It is
// fatal to the whole run.
type CheckpointIOError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CheckpointIOError) Unwrap() error {
	return e.Err
}

// ExtractionError reports that text could not be extracted from a PDF.
type ExtractionError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidInput for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Source: source, RetryAfter: retryAfter}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// IsFatal reports whether err must abort the whole batch. Only specification
// and durability failures are fatal; everything scoped to one document or one
// (document, query) pair is recorded and skipped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return true
	}
	var cpErr *CheckpointIOError
	if errors.As(err, &cpErr) {
		return true
	}
	return errors.Is(err, ErrCheckpointMismatch)
}

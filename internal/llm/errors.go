package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a provider failure for the retry policy.
type ErrorKind string

const (
	// KindRateLimited is a 429 or quota response. Retried with backoff.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient is a network failure, timeout or 5xx. Retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindInvalidRequest is a permanent client error.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindSchemaRejected means the provider refused the response schema.
	KindSchemaRejected ErrorKind = "schema_rejected"
)

// ProviderError represents an error returned by a model provider.
type ProviderError struct {
	// Provider is the name of the provider (e.g., "gemini", "openai").
	Provider string
	// Kind drives retry decisions.
	Kind ErrorKind
	// StatusCode is the HTTP status code; 0 when no response was received.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the provider's own error type or status string, if any.
	Type string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (status %d, type %s): %s", e.Provider, e.Kind, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
}

// IsTransient returns true if the call may succeed when retried.
func (e *ProviderError) IsTransient() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// IsTransient reports whether err is a ProviderError eligible for retry.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.IsTransient()
}

// KindOf returns the kind of a ProviderError, or "" for other errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// classifyStatus maps an HTTP status and error message to an ErrorKind.
// A 400 that mentions the response schema is a schema rejection.
func classifyStatus(statusCode int, message string) ErrorKind {
	switch {
	case statusCode == 0, statusCode == http.StatusRequestTimeout, statusCode >= 500:
		return KindTransient
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusBadRequest && mentionsSchema(message):
		return KindSchemaRejected
	default:
		return KindInvalidRequest
	}
}

func mentionsSchema(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "response_schema") ||
		strings.Contains(m, "responseschema") ||
		strings.Contains(m, "json_schema") ||
		strings.Contains(m, "schema")
}

// networkError wraps a transport failure. Cancellation is returned unchanged;
// timeouts are transient.
func networkError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{
		Provider: provider,
		Kind:     KindTransient,
		Message:  fmt.Sprintf("request failed: %v", err),
		Type:     "network_error",
	}
}

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed user input (address, chain, command)
	CategoryValidation ErrorCategory = "validation"
	// CategoryTransientNetwork represents RPC or price-feed timeouts and rate limits
	CategoryTransientNetwork ErrorCategory = "transient_network"
	// CategoryNoLiveEndpoint represents a chain whose RPC endpoints are all down
	CategoryNoLiveEndpoint ErrorCategory = "no_live_endpoint"
	// CategoryKnowledgeUnavailable represents an unreachable knowledge backend
	CategoryKnowledgeUnavailable ErrorCategory = "knowledge_unavailable"
	// CategoryStorage represents key-value store failures
	CategoryStorage ErrorCategory = "storage"
	// CategoryInternal represents everything else
	CategoryInternal ErrorCategory = "internal"
)

// Categorized is implemented by domain errors that know their own category.
type Categorized interface {
	Category() ErrorCategory
}

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Kind       ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Category implements Categorized
func (e *CategorizedError) Category() ErrorCategory {
	return e.Kind
}

// NewValidationError creates a user-facing validation error
func NewValidationError(field, reason string) *CategorizedError {
	return &CategorizedError{
		Kind:       CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewTransientNetworkError wraps a retryable provider failure
func NewTransientNetworkError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Kind:       CategoryTransientNetwork,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "TRANSIENT_NETWORK",
		Message:    fmt.Sprintf("provider %s temporarily unavailable", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewNoLiveEndpointError reports that no endpoint of a chain answered
func NewNoLiveEndpointError(chain string, tried int) *CategorizedError {
	return &CategorizedError{
		Kind:       CategoryNoLiveEndpoint,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "NO_LIVE_ENDPOINT",
		Message:    fmt.Sprintf("no live RPC endpoint for %s (%d tried)", chain, tried),
		Details: map[string]interface{}{
			"chain": chain,
			"tried": tried,
		},
	}
}

// NewKnowledgeUnavailableError wraps a knowledge backend failure
func NewKnowledgeUnavailableError(op string, cause error) *CategorizedError {
	return &CategorizedError{
		Kind:       CategoryKnowledgeUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "KNOWLEDGE_UNAVAILABLE",
		Message:    fmt.Sprintf("knowledge backend unavailable during %s", op),
		Cause:      cause,
	}
}

// NewStorageError wraps a key-value store failure
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Kind:       CategoryStorage,
		StatusCode: http.StatusInternalServerError,
		Code:       "STORAGE_ERROR",
		Message:    fmt.Sprintf("storage error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Kind:       CategoryInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize returns the category of the first error in the chain that declares one.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var c Categorized
	if stderrors.As(err, &c) {
		return c.Category()
	}
	return CategoryInternal
}

// IsRetryable reports whether the error is worth retrying
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransientNetwork
}

// IsValidation reports whether the error is a user input problem
func IsValidation(err error) bool {
	return Categorize(err) == CategoryValidation
}

// StatusCode maps an error to an HTTP status
func StatusCode(err error) int {
	var ce *CategorizedError
	if stderrors.As(err, &ce) {
		return ce.StatusCode
	}
	switch Categorize(err) {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryTransientNetwork, CategoryNoLiveEndpoint, CategoryKnowledgeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

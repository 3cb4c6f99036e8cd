package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// respondServiceError maps an error to a status code by its category
func respondServiceError(w http.ResponseWriter, err error) {
	status := apperrors.StatusCode(err)
	code := ErrCodeInternalError
	message := "An internal error occurred"

	switch apperrors.Categorize(err) {
	case apperrors.CategoryValidation:
		code = ErrCodeInvalidInput
		message = err.Error()
	case apperrors.CategoryTransientNetwork, apperrors.CategoryNoLiveEndpoint,
		apperrors.CategoryKnowledgeUnavailable, apperrors.CategoryStorage:
		status = http.StatusServiceUnavailable
		code = ErrCodeServiceUnavailable
		message = "A backing service is unavailable, try again later"
	}
	respondError(w, status, code, message, nil)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// ApiResponse is the envelope for every JSON response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}

// errorStatus maps an engine error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var rejected *apperrors.SecurityRejectedError
	switch {
	case errors.As(err, &rejected):
		return http.StatusForbidden, "security_rejected"
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrBackendNotFound):
		return http.StatusNotFound, "backend_not_found"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrTooManyExecutions):
		return http.StatusTooManyRequests, "too_many_executions"
	case errors.Is(err, apperrors.ErrTimedOut):
		return http.StatusGatewayTimeout, "timed_out"
	case errors.Is(err, apperrors.ErrCancelled):
		return http.StatusServiceUnavailable, "cancelled"
	}

	var be *apperrors.BackendError
	if errors.As(err, &be) {
		return http.StatusBadGateway, "backend_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError writes err with its mapped status. data, when non-nil, is
// returned alongside so callers still see partial results.
func writeError(w http.ResponseWriter, err error, data any, logger *zap.Logger) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		logger.Error("Request failed", zap.String("error", logging.SanitizeError(err)))
	}

	resp := ApiResponse{
		Success: false,
		Data:    data,
		Error:   code,
		Message: logging.SanitizeError(err),
	}
	if writeErr := WriteJSON(w, status, resp); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

func writeOK(w http.ResponseWriter, data any, logger *zap.Logger) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxWait caps the wait_ms long-poll on task results.
const maxWait = 30 * time.Second

// ParseTaskID extracts and validates the task ID from the request path.
// Returns the ID and true on success, or "" and false on error (after
// writing an error response).
// Expects path parameter: id
func ParseTaskID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_task_id", "Invalid task ID format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return id.String(), true
}

// queryInt reads a non-negative integer query parameter. A missing value
// yields def; a malformed one writes a 400 and returns false.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", "Invalid value for "+name); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return n, true
}

// parseWait converts wait_ms into a duration capped at maxWait.
func parseWait(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (time.Duration, bool) {
	ms, ok := queryInt(w, r, "wait_ms", 0, logger)
	if !ok {
		return 0, false
	}
	wait := time.Duration(ms) * time.Millisecond
	if wait > maxWait {
		wait = maxWait
	}
	return wait, true
}

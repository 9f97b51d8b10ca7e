package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/services"
)

// ExecuteAsyncResponse is returned when a task is scheduled.
type ExecuteAsyncResponse struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
}

// CheckSQLRequest for POST /api/sql/check.
type CheckSQLRequest struct {
	SQL        string         `json:"sql"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CheckSQLResponse carries both static verdicts.
type CheckSQLResponse struct {
	Security   *models.SecurityCheckResult   `json:"security"`
	Complexity *models.ComplexityCheckResult `json:"complexity"`
}

// TaskStatusResponse for GET /api/sql/tasks/{id}/status.
type TaskStatusResponse struct {
	TaskID   string            `json:"task_id"`
	Status   models.TaskStatus `json:"status"`
	Complete bool              `json:"complete"`
}

// SQLHandler exposes synchronous and asynchronous SQL execution.
type SQLHandler struct {
	executor services.SQLExecutor
	tasks    services.AsyncExecutor
	logger   *zap.Logger
}

// NewSQLHandler creates a new SQL handler.
func NewSQLHandler(executor services.SQLExecutor, tasks services.AsyncExecutor, logger *zap.Logger) *SQLHandler {
	return &SQLHandler{
		executor: executor,
		tasks:    tasks,
		logger:   logger,
	}
}

// RegisterRoutes registers the SQL handler's routes on the given mux.
func (h *SQLHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sql/execute", h.Execute)
	mux.HandleFunc("POST /api/sql/check", h.Check)
	mux.HandleFunc("POST /api/sql/export", h.Export)
	mux.HandleFunc("POST /api/sql/execute-async", h.ExecuteAsync)
	mux.HandleFunc("GET /api/sql/tasks", h.ListTasks)
	mux.HandleFunc("GET /api/sql/tasks/{id}", h.GetTask)
	mux.HandleFunc("GET /api/sql/tasks/{id}/status", h.GetTaskStatus)
	mux.HandleFunc("DELETE /api/sql/tasks/{id}", h.CancelTask)
}

// Execute handles POST /api/sql/execute.
func (h *SQLHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req services.ExecuteRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	result, err := h.executor.Execute(r.Context(), &req)
	if err != nil {
		writeError(w, err, result, h.logger)
		return
	}
	writeOK(w, result, h.logger)
}

var exportContentTypes = map[results.ExportFormat]string{
	results.FormatCSV:  "text/csv; charset=utf-8",
	results.FormatJSON: "application/json",
	results.FormatYAML: "application/yaml",
}

// Export handles POST /api/sql/export?format=csv|json|yaml. The query is
// executed like /execute and its rows are rendered in the requested format.
func (h *SQLHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := results.ExportFormat(strings.ToUpper(r.URL.Query().Get("format")))
	if format == "" {
		format = results.FormatCSV
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		if err := ErrorResponse(w, http.StatusBadRequest, "unsupported_format", "Unsupported export format: "+string(format)); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req services.ExecuteRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	result, err := h.executor.Execute(r.Context(), &req)
	if err != nil {
		writeError(w, err, result, h.logger)
		return
	}

	body, err := results.Export(result.Data, results.ColumnNames(result.Columns), format)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, results.ErrExportNotSupported) {
			status = http.StatusBadRequest
		}
		if err := ErrorResponse(w, status, "export_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", contentType)
	if result.Truncated {
		w.Header().Set("X-Result-Truncated", "true")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("Failed to write export", zap.Error(err))
	}
}

// Check handles POST /api/sql/check. Nothing is executed.
func (h *SQLHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckSQLRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "sql is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	writeOK(w, CheckSQLResponse{
		Security:   h.executor.CheckSQL(req.SQL, req.Parameters),
		Complexity: h.executor.ValidateComplexity(req.SQL),
	}, h.logger)
}

// ExecuteAsync handles POST /api/sql/execute-async.
func (h *SQLHandler) ExecuteAsync(w http.ResponseWriter, r *http.Request) {
	var req services.ExecuteRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	taskID, err := h.tasks.ExecuteAsync(r.Context(), &req)
	if err != nil {
		writeError(w, err, nil, h.logger)
		return
	}

	resp := ApiResponse{
		Success: true,
		Data: ExecuteAsyncResponse{
			TaskID: taskID,
			Status: h.tasks.GetExecutionStatus(taskID),
		},
	}
	if err := WriteJSON(w, http.StatusAccepted, resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListTasks handles GET /api/sql/tasks.
func (h *SQLHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.tasks.ActiveTasks(), h.logger)
}

// GetTask handles GET /api/sql/tasks/{id}?wait_ms=N. A completed result is
// handed out once.
func (h *SQLHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := ParseTaskID(w, r, h.logger)
	if !ok {
		return
	}
	wait, ok := parseWait(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.tasks.GetAsyncResult(r.Context(), taskID, wait)
	if err != nil {
		writeError(w, err, nil, h.logger)
		return
	}
	writeOK(w, result, h.logger)
}

// GetTaskStatus handles GET /api/sql/tasks/{id}/status.
func (h *SQLHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := ParseTaskID(w, r, h.logger)
	if !ok {
		return
	}

	status := h.tasks.GetExecutionStatus(taskID)
	if status == models.TaskStatusNotFound {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Task not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	writeOK(w, TaskStatusResponse{
		TaskID:   taskID,
		Status:   status,
		Complete: h.tasks.IsComplete(taskID),
	}, h.logger)
}

// CancelTask handles DELETE /api/sql/tasks/{id}.
func (h *SQLHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := ParseTaskID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.tasks.Cancel(taskID); err != nil {
		writeError(w, err, nil, h.logger)
		return
	}

	writeOK(w, TaskStatusResponse{
		TaskID:   taskID,
		Status:   models.TaskStatusCancelled,
		Complete: true,
	}, h.logger)
}

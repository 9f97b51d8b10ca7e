package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/services"
)

func newSQLMux(exec *mockExecutor, tasks *mockTasks) *http.ServeMux {
	mux := http.NewServeMux()
	NewSQLHandler(exec, tasks, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func serve(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (ApiResponse, map[string]any) {
	t.Helper()
	var raw struct {
		ApiResponse
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	return raw.ApiResponse, raw.Data
}

func TestSQLHandler_Execute(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *models.ExecutionResult
		err        error
		wantStatus int
		wantCode   string
		wantData   bool
	}{
		{
			name:       "success",
			body:       `{"sql":"SELECT * FROM orders WHERE id = :id","parameters":{"id":7},"backend":"pg"}`,
			result:     &models.ExecutionResult{Success: true, Status: models.ExecutionStatusSuccess, RowCount: 1},
			wantStatus: http.StatusOK,
			wantData:   true,
		},
		{
			name:       "malformed body",
			body:       `{"sql":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "parameter validation error",
			body:       `{"sql":"SELECT :id","backend":"pg"}`,
			err:        fmt.Errorf("%w: missing required parameter id", apperrors.ErrInvalidRequest),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:   "rejected keeps the result",
			body:   `{"sql":"DROP TABLE orders","backend":"pg"}`,
			result: &models.ExecutionResult{Status: models.ExecutionStatusRejected},
			err: &apperrors.SecurityRejectedError{
				RiskLevel:  "CRITICAL",
				Violations: []string{"dangerous keyword DROP"},
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "security_rejected",
			wantData:   true,
		},
		{
			name:       "backend failure",
			body:       `{"sql":"SELECT * FROM missing","backend":"pg"}`,
			result:     &models.ExecutionResult{Status: models.ExecutionStatusFailed, ErrorCode: "42P01"},
			err:        &apperrors.BackendError{Backend: "pg", Op: "query", Code: "42P01", Message: "relation does not exist"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "backend_error",
			wantData:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{result: tt.result, err: tt.err}
			rec := serve(newSQLMux(exec, &mockTasks{}), http.MethodPost, "/api/sql/execute", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp, data := decodeEnvelope(t, rec)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.wantData, data != nil)
		})
	}
}

func TestSQLHandler_Execute_KeepsNumericPrecision(t *testing.T) {
	exec := &mockExecutor{result: &models.ExecutionResult{Success: true, Status: models.ExecutionStatusSuccess}}
	body := `{"sql":"SELECT :big","parameters":{"big":9007199254740993},"backend":"pg","skip_cache":true}`

	rec := serve(newSQLMux(exec, &mockTasks{}), http.MethodPost, "/api/sql/execute", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, exec.lastReq)
	assert.Equal(t, json.Number("9007199254740993"), exec.lastReq.Parameters["big"])
	assert.True(t, exec.lastReq.SkipCache)
	assert.Equal(t, "pg", exec.lastReq.Backend)
}

func TestSQLHandler_Check(t *testing.T) {
	mux := newSQLMux(&mockExecutor{}, &mockTasks{})

	rec := serve(mux, http.MethodPost, "/api/sql/check", `{"sql":"SELECT 1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeEnvelope(t, rec)
	assert.Contains(t, data, "security")
	assert.Contains(t, data, "complexity")

	rec = serve(mux, http.MethodPost, "/api/sql/check", `{"sql":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSQLHandler_ExecuteAsync(t *testing.T) {
	taskID := uuid.NewString()
	tasks := &mockTasks{taskID: taskID, status: models.TaskStatusPending}

	rec := serve(newSQLMux(&mockExecutor{}, tasks), http.MethodPost, "/api/sql/execute-async", `{"sql":"SELECT 1","backend":"pg"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	resp, data := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, taskID, data["task_id"])
	assert.Equal(t, "PENDING", data["status"])
}

func TestSQLHandler_ExecuteAsync_RegistryFull(t *testing.T) {
	tasks := &mockTasks{err: fmt.Errorf("%w: 1000 live tasks", apperrors.ErrTooManyExecutions)}

	rec := serve(newSQLMux(&mockExecutor{}, tasks), http.MethodPost, "/api/sql/execute-async", `{"sql":"SELECT 1"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSQLHandler_GetTask(t *testing.T) {
	taskID := uuid.NewString()

	tests := []struct {
		name       string
		target     string
		tasks      *mockTasks
		wantStatus int
		wantWait   time.Duration
	}{
		{
			name:   "completed",
			target: "/api/sql/tasks/" + taskID,
			tasks: &mockTasks{result: &services.TaskResult{
				TaskID: taskID,
				Status: models.TaskStatusCompleted,
				Result: &models.ExecutionResult{Success: true, Status: models.ExecutionStatusSuccess},
			}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wait is passed through",
			target:     "/api/sql/tasks/" + taskID + "?wait_ms=250",
			tasks:      &mockTasks{result: &services.TaskResult{TaskID: taskID, Status: models.TaskStatusRunning}},
			wantStatus: http.StatusOK,
			wantWait:   250 * time.Millisecond,
		},
		{
			name:       "wait is capped",
			target:     "/api/sql/tasks/" + taskID + "?wait_ms=600000",
			tasks:      &mockTasks{result: &services.TaskResult{TaskID: taskID, Status: models.TaskStatusRunning}},
			wantStatus: http.StatusOK,
			wantWait:   maxWait,
		},
		{
			name:       "bad wait",
			target:     "/api/sql/tasks/" + taskID + "?wait_ms=-1",
			tasks:      &mockTasks{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad id",
			target:     "/api/sql/tasks/not-a-uuid",
			tasks:      &mockTasks{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown task",
			target:     "/api/sql/tasks/" + taskID,
			tasks:      &mockTasks{err: fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newSQLMux(&mockExecutor{}, tt.tasks), http.MethodGet, tt.target, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantWait, tt.tasks.lastWait)
		})
	}
}

func TestSQLHandler_GetTaskStatus(t *testing.T) {
	taskID := uuid.NewString()

	tests := []struct {
		name         string
		status       models.TaskStatus
		wantStatus   int
		wantComplete bool
	}{
		{name: "running", status: models.TaskStatusRunning, wantStatus: http.StatusOK},
		{name: "cancelled", status: models.TaskStatusCancelled, wantStatus: http.StatusOK, wantComplete: true},
		{name: "unknown", status: models.TaskStatusNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newSQLMux(&mockExecutor{}, &mockTasks{status: tt.status})
			rec := serve(mux, http.MethodGet, "/api/sql/tasks/"+taskID+"/status", "")

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			_, data := decodeEnvelope(t, rec)
			assert.Equal(t, string(tt.status), data["status"])
			assert.Equal(t, tt.wantComplete, data["complete"])
		})
	}
}

func TestSQLHandler_CancelTask(t *testing.T) {
	taskID := uuid.NewString()

	rec := serve(newSQLMux(&mockExecutor{}, &mockTasks{}), http.MethodDelete, "/api/sql/tasks/"+taskID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeEnvelope(t, rec)
	assert.Equal(t, "CANCELLED", data["status"])

	tasks := &mockTasks{err: fmt.Errorf("%w: task %s already COMPLETED", apperrors.ErrInvalidRequest, taskID)}
	rec = serve(newSQLMux(&mockExecutor{}, tasks), http.MethodDelete, "/api/sql/tasks/"+taskID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSQLHandler_ListTasks(t *testing.T) {
	tasks := &mockTasks{active: []models.TaskInfo{
		{ID: uuid.NewString(), Status: models.TaskStatusRunning, Backend: "pg"},
	}}

	rec := serve(newSQLMux(&mockExecutor{}, tasks), http.MethodGet, "/api/sql/tasks", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []models.TaskInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "pg", body.Data[0].Backend)
}

func TestSQLHandler_Export(t *testing.T) {
	result := &models.ExecutionResult{
		Success: true,
		Status:  models.ExecutionStatusSuccess,
		Columns: []models.ColumnInfo{{Name: "id"}, {Name: "name"}},
		Data: []models.Row{
			{"id": int64(1), "name": "alice"},
			{"id": int64(2), "name": "bob"},
		},
		Truncated: true,
	}

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		contentType string
		wantBody    string
	}{
		{name: "csv by default", query: "", wantStatus: http.StatusOK, contentType: "text/csv; charset=utf-8", wantBody: "id,name\n1,alice\n2,bob\n"},
		{name: "json", query: "?format=json", wantStatus: http.StatusOK, contentType: "application/json", wantBody: `[{"id":1,"name":"alice"},{"id":2,"name":"bob"}]`},
		{name: "yaml", query: "?format=yaml", wantStatus: http.StatusOK, contentType: "application/yaml", wantBody: "- id: 1\n  name: alice\n- id: 2\n  name: bob\n"},
		{name: "excel refused", query: "?format=excel", wantStatus: http.StatusBadRequest, contentType: "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{result: result}
			rec := serve(newSQLMux(exec, &mockTasks{}), http.MethodPost, "/api/sql/export"+tt.query, `{"sql":"SELECT id, name FROM users","backend":"pg"}`)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
				assert.Equal(t, "true", rec.Header().Get("X-Result-Truncated"))
			}
		})
	}
}

func TestSQLHandler_Export_PropagatesExecutionErrors(t *testing.T) {
	exec := &mockExecutor{
		result: &models.ExecutionResult{Status: models.ExecutionStatusRejected},
		err:    &apperrors.SecurityRejectedError{RiskLevel: "HIGH", Violations: []string{"stacked statements"}},
	}

	rec := serve(newSQLMux(exec, &mockTasks{}), http.MethodPost, "/api/sql/export?format=csv", `{"sql":"SELECT 1; DELETE FROM t"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryType is decided once from the leading keyword of a statement.
type QueryType string

const (
	QueryTypeSelect    QueryType = "SELECT"
	QueryTypeMutation  QueryType = "MUTATION"
	QueryTypeProcedure QueryType = "PROCEDURE"
	QueryTypeOther     QueryType = "OTHER"
)

// ExecutionStatus is the outcome of a single execution.
type ExecutionStatus string

const (
	ExecutionStatusSuccess   ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusRejected  ExecutionStatus = "REJECTED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
	ExecutionStatusTimedOut  ExecutionStatus = "TIMED_OUT"
)

// LogicalType is the backend-independent type of a result column.
type LogicalType string

const (
	LogicalTypeBoolean   LogicalType = "BOOLEAN"
	LogicalTypeInteger   LogicalType = "INTEGER"
	LogicalTypeBigInt    LogicalType = "BIGINT"
	LogicalTypeFloat     LogicalType = "FLOAT"
	LogicalTypeDouble    LogicalType = "DOUBLE"
	LogicalTypeDecimal   LogicalType = "DECIMAL"
	LogicalTypeDate      LogicalType = "DATE"
	LogicalTypeTime      LogicalType = "TIME"
	LogicalTypeTimestamp LogicalType = "TIMESTAMP"
	LogicalTypeString    LogicalType = "STRING"
	LogicalTypeBinary    LogicalType = "BINARY"
	LogicalTypeBlob      LogicalType = "BLOB"
	LogicalTypeClob      LogicalType = "CLOB"
	LogicalTypeObject    LogicalType = "OBJECT"
)

// ColumnInfo describes one column of a result set, in result order.
type ColumnInfo struct {
	Name         string      `json:"name"`
	DatabaseType string      `json:"database_type"`
	Type         LogicalType `json:"type"`
}

// Row maps column name to a normalized value. Column order is carried by
// ExecutionResult.Columns.
type Row map[string]any

// ExecutionResult is produced once per execution and never mutated after
// construction. Cached copies are stored by value.
type ExecutionResult struct {
	Success bool            `json:"success"`
	Status  ExecutionStatus `json:"status"`

	SQL        string         `json:"sql"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Backend    string         `json:"backend"`
	QueryType  QueryType      `json:"query_type"`

	Data         []Row        `json:"data"`
	Columns      []ColumnInfo `json:"columns,omitempty"`
	RowCount     int          `json:"row_count"`
	TotalRows    int          `json:"total_rows"`
	AffectedRows int64        `json:"affected_rows"`
	Truncated    bool         `json:"truncated"`

	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	ExecutionTimeMs  int64     `json:"execution_time_ms"`
	MemoryDeltaBytes int64     `json:"memory_delta_bytes"`
	CPUTimeDeltaMs   int64     `json:"cpu_time_delta_ms"`

	CacheKey  string `json:"cache_key,omitempty"`
	FromCache bool   `json:"from_cache"`

	Security *SecurityCheckResult `json:"security,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// Clone returns a shallow copy whose slices and maps are not shared with r.
// Row maps are copied one level deep.
func (r *ExecutionResult) Clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Parameters != nil {
		c.Parameters = make(map[string]any, len(r.Parameters))
		for k, v := range r.Parameters {
			c.Parameters[k] = v
		}
	}
	if r.Columns != nil {
		c.Columns = append([]ColumnInfo(nil), r.Columns...)
	}
	if r.Data != nil {
		c.Data = make([]Row, len(r.Data))
		for i, row := range r.Data {
			cp := make(Row, len(row))
			for k, v := range row {
				cp[k] = v
			}
			c.Data[i] = cp
		}
	}
	return &c
}

// ExecutionLog is one persisted record per execution, sync or async.
type ExecutionLog struct {
	ID              uuid.UUID       `json:"id"`
	TaskID          string          `json:"task_id,omitempty"`
	Backend         string          `json:"backend"`
	QueryType       QueryType       `json:"query_type"`
	SQL             string          `json:"sql"`
	Parameters      map[string]any  `json:"parameters,omitempty"` // masked
	Status          ExecutionStatus `json:"status"`
	RowCount        int             `json:"row_count"`
	AffectedRows    int64           `json:"affected_rows"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	FromCache       bool            `json:"from_cache"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewExecutionLog builds a log record from a finished result.
func NewExecutionLog(result *ExecutionResult, maskedParams map[string]any, taskID string) *ExecutionLog {
	return &ExecutionLog{
		ID:              uuid.New(),
		TaskID:          taskID,
		Backend:         result.Backend,
		QueryType:       result.QueryType,
		SQL:             result.SQL,
		Parameters:      maskedParams,
		Status:          result.Status,
		RowCount:        result.RowCount,
		AffectedRows:    result.AffectedRows,
		ExecutionTimeMs: result.ExecutionTimeMs,
		FromCache:       result.FromCache,
		ErrorCode:       result.ErrorCode,
		ErrorMessage:    result.ErrorMessage,
		CreatedAt:       time.Now().UTC(),
	}
}

// TaskStatus is the state of an async execution.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
	TaskStatusTimedOut  TaskStatus = "TIMED_OUT"
	TaskStatusNotFound  TaskStatus = "NOT_FOUND"
)

// IsTerminal reports whether no further transitions can happen.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusTimedOut, TaskStatusNotFound:
		return true
	}
	return false
}

// TaskInfo is a point-in-time view of an async task.
type TaskInfo struct {
	ID          string     `json:"id"`
	Status      TaskStatus `json:"status"`
	Backend     string     `json:"backend"`
	SQL         string     `json:"sql"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

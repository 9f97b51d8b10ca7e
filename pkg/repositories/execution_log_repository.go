package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// ExecutionLogSink accepts one record per SQL execution.
type ExecutionLogSink interface {
	Record(ctx context.Context, entry *models.ExecutionLog) error
}

// ExecutionLogFilters narrows List results.
type ExecutionLogFilters struct {
	Backend string
	Status  models.ExecutionStatus
	Since   *time.Time
	Limit   int
}

// ExecutionLogRepository persists execution records in engine_sql_execution_log.
type ExecutionLogRepository interface {
	ExecutionLogSink
	List(ctx context.Context, filters ExecutionLogFilters) ([]*models.ExecutionLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type executionLogRepository struct {
	db *database.DB
}

func NewExecutionLogRepository(db *database.DB) ExecutionLogRepository {
	return &executionLogRepository{db: db}
}

var _ ExecutionLogRepository = (*executionLogRepository)(nil)

func (r *executionLogRepository) Record(ctx context.Context, entry *models.ExecutionLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	paramsJSON, err := marshalJSONBany(entry.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO engine_sql_execution_log (
			id, task_id, backend, query_type, sql_text, parameters,
			status, row_count, affected_rows, execution_time_ms,
			from_cache, error_code, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.db.Pool.Exec(ctx, query,
		entry.ID,
		nullIfEmpty(entry.TaskID),
		entry.Backend,
		string(entry.QueryType),
		entry.SQL,
		paramsJSON,
		string(entry.Status),
		entry.RowCount,
		entry.AffectedRows,
		entry.ExecutionTimeMs,
		entry.FromCache,
		nullIfEmpty(entry.ErrorCode),
		nullIfEmpty(entry.ErrorMessage),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}
	return nil
}

func (r *executionLogRepository) List(ctx context.Context, filters ExecutionLogFilters) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, task_id, backend, query_type, sql_text, parameters,
		       status, row_count, affected_rows, execution_time_ms,
		       from_cache, error_code, error_message, created_at
		FROM engine_sql_execution_log
		WHERE ($1 = '' OR backend = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
		LIMIT $4`

	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.db.Pool.Query(ctx, query, filters.Backend, string(filters.Status), filters.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ExecutionLog
	for rows.Next() {
		entry, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}
	return entries, nil
}

func (r *executionLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM engine_sql_execution_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanExecutionLog(rows pgx.Rows) (*models.ExecutionLog, error) {
	var (
		entry                           models.ExecutionLog
		taskID, errorCode, errorMessage *string
		queryType, status               string
		paramsJSON                      []byte
	)
	err := rows.Scan(
		&entry.ID, &taskID, &entry.Backend, &queryType, &entry.SQL, &paramsJSON,
		&status, &entry.RowCount, &entry.AffectedRows, &entry.ExecutionTimeMs,
		&entry.FromCache, &errorCode, &errorMessage, &entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution log: %w", err)
	}

	entry.QueryType = models.QueryType(queryType)
	entry.Status = models.ExecutionStatus(status)
	entry.TaskID = derefString(taskID)
	entry.ErrorCode = derefString(errorCode)
	entry.ErrorMessage = derefString(errorMessage)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &entry.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	return &entry, nil
}

func marshalJSONBany(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

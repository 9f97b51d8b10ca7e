package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/audit"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/cache"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/monitor"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/repositories"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
	sqlutil "github.com/ekaya-inc/ekaya-report-engine/pkg/sql"
)

// Error codes set on results that did not come from a backend.
const (
	ErrorCodeRejected        = "SECURITY_REJECTED"
	ErrorCodeTimeout         = "TIMEOUT"
	ErrorCodeCancelled       = "CANCELLED"
	ErrorCodeBackendNotFound = "BACKEND_NOT_FOUND"
)

// SQLExecutor runs ad-hoc SQL templates against configured backends.
type SQLExecutor interface {
	// Execute runs one template synchronously. Parameter validation errors
	// are returned with a nil result. Every other outcome returns a result;
	// the error is non-nil whenever the result status is not SUCCESS.
	Execute(ctx context.Context, req *ExecuteRequest) (*models.ExecutionResult, error)

	// CheckSQL runs the static security check without executing anything.
	CheckSQL(sqlText string, params map[string]any) *models.SecurityCheckResult

	// ValidateComplexity runs the optional complexity gate.
	ValidateComplexity(sqlText string) *models.ComplexityCheckResult
}

// BackendProvider hands out pooled connections and the dialect of each
// configured backend.
type BackendProvider interface {
	datasource.ConnectionProvider
	Dialect(backend string) (datasource.Dialect, error)
}

// ExecuteRequest describes one execution.
type ExecuteRequest struct {
	SQL            string                       `json:"sql"`
	Parameters     map[string]any               `json:"parameters,omitempty"`
	Definitions    []models.ParameterDefinition `json:"definitions,omitempty"`
	Backend        string                       `json:"backend"`
	TimeoutSeconds int                          `json:"timeout_seconds,omitempty"`
	SkipCache      bool                         `json:"skip_cache,omitempty"`

	// Params takes precedence over Parameters when set.
	Params sqlutil.Params `json:"-"`
}

func (r *ExecuteRequest) params() sqlutil.Params {
	if r.Params != nil {
		return r.Params
	}
	return sqlutil.ParamsFromMap(r.Parameters)
}

func (r *ExecuteRequest) timeout(def time.Duration) time.Duration {
	if r.TimeoutSeconds > 0 {
		return time.Duration(r.TimeoutSeconds) * time.Second
	}
	return def
}

// ExecutorConfig tunes the execution pipeline.
type ExecutorConfig struct {
	MaxRows        int
	DefaultTimeout time.Duration
	// NativeBinding sends parameters as bind arguments instead of inlining
	// literals, except for dialects that require inline literals.
	NativeBinding   bool
	DefaultBackend  string
	AuditExecutions bool
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRows:        1000,
		DefaultTimeout: 5 * time.Minute,
		NativeBinding:  true,
	}
}

type taskIDKey struct{}

// WithTaskID marks ctx as belonging to an async task so execution logs can
// be correlated with it.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskIDFromContext returns the id stored by WithTaskID, or "".
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

type sqlExecutor struct {
	backends  BackendProvider
	cache     *cache.Manager
	checker   *sqlutil.SecurityChecker
	converter *results.Converter
	monitor   *monitor.Monitor
	metrics   *monitor.Metrics
	sink      repositories.ExecutionLogSink
	auditor   *audit.SecurityAuditor
	cfg       ExecutorConfig
	logger    *zap.Logger
}

// NewSQLExecutor creates an executor. cacheMgr and metrics may be nil, which
// disables caching and Prometheus recording respectively.
func NewSQLExecutor(
	backends BackendProvider,
	cacheMgr *cache.Manager,
	checker *sqlutil.SecurityChecker,
	converter *results.Converter,
	mon *monitor.Monitor,
	metrics *monitor.Metrics,
	sink repositories.ExecutionLogSink,
	auditor *audit.SecurityAuditor,
	cfg ExecutorConfig,
	logger *zap.Logger,
) SQLExecutor {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultExecutorConfig().MaxRows
	}
	return &sqlExecutor{
		backends:  backends,
		cache:     cacheMgr,
		checker:   checker,
		converter: converter,
		monitor:   mon,
		metrics:   metrics,
		sink:      sink,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger.Named("sql-executor"),
	}
}

var _ SQLExecutor = (*sqlExecutor)(nil)

func (s *sqlExecutor) CheckSQL(sqlText string, params map[string]any) *models.SecurityCheckResult {
	return s.checker.Check(sqlText, sqlutil.ParamsFromMap(params))
}

func (s *sqlExecutor) ValidateComplexity(sqlText string) *models.ComplexityCheckResult {
	return s.checker.ValidateComplexity(sqlText)
}

func (s *sqlExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*models.ExecutionResult, error) {
	taskID := TaskIDFromContext(ctx)
	backend := req.Backend
	if backend == "" {
		backend = s.cfg.DefaultBackend
	}
	if strings.TrimSpace(req.SQL) == "" {
		return nil, fmt.Errorf("%w: sql is required", apperrors.ErrInvalidRequest)
	}
	if backend == "" {
		return nil, fmt.Errorf("%w: backend is required", apperrors.ErrInvalidRequest)
	}

	// Placeholders inside quotes can be neither bound nor inlined safely.
	if names := sqlutil.PlaceholdersInStringLiterals(req.SQL); len(names) > 0 {
		msg := "placeholders inside string literals: " + strings.Join(names, ", ")
		s.auditor.LogParameterValidation(ctx, backend, taskID, msg)
		return nil, fmt.Errorf("%w: %s; concatenate the parameter instead, e.g. '%%' || ${%s} || '%%'",
			apperrors.ErrInvalidRequest, msg, names[0])
	}

	params, err := sqlutil.Validate(req.params(), req.Definitions)
	if err != nil {
		s.auditor.LogParameterValidation(ctx, backend, taskID, err.Error())
		return nil, err
	}

	defs := sqlutil.InferDefinitions(req.SQL, req.Definitions)
	masked := sqlutil.MaskParameters(params, defs)
	queryType := sqlutil.DetectQueryType(req.SQL)

	displaySQL, unresolved := sqlutil.Substitute(req.SQL, params)
	if len(unresolved) > 0 {
		s.logger.Warn("Unresolved placeholders left in SQL",
			zap.String("backend", backend),
			zap.Strings("placeholders", unresolved))
	}

	result := &models.ExecutionResult{
		SQL:        displaySQL,
		Parameters: masked,
		Backend:    backend,
		QueryType:  queryType,
		StartedAt:  time.Now(),
	}

	// Only reads are ever stored, so other statement types skip the lookup.
	if s.cache != nil && queryType == models.QueryTypeSelect {
		result.CacheKey = cache.Key(backend, req.SQL, params)
		if !req.SkipCache {
			cached, hit := s.cache.Get(ctx, result.CacheKey)
			if s.metrics != nil {
				s.metrics.RecordCacheLookup(hit)
			}
			if hit {
				s.logger.Debug("Serving result from cache",
					zap.String("backend", backend),
					zap.String("cache_key", result.CacheKey))
				s.finish(ctx, cached, taskID)
				return cached, nil
			}
		}
	}

	check := s.checker.Check(req.SQL, params)
	result.Security = check
	if !check.Valid {
		return s.reject(ctx, result, params, taskID)
	}

	dialect, err := s.backends.Dialect(backend)
	if err != nil {
		return s.fail(ctx, result, err, taskID)
	}
	query, args := s.prepare(req.SQL, params, dialect)

	execCtx := ctx
	if timeout := req.timeout(s.cfg.DefaultTimeout); timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	handle := s.monitor.Start(ctx, backend+":"+string(queryType))
	started := time.Now()
	runErr := s.run(execCtx, backend, query, args, result)
	elapsed := time.Since(started)

	result.FinishedAt = time.Now()
	result.ExecutionTimeMs = elapsed.Milliseconds()
	if snap := s.monitor.Stop(ctx, handle); snap != nil {
		result.MemoryDeltaBytes = snap.MemoryDeltaBytes
		result.CPUTimeDeltaMs = snap.CPUTimeDeltaMs
	}
	s.monitor.RecordSlowQuery(req.SQL, elapsed, masked)

	if runErr != nil {
		return s.fail(ctx, result, runErr, taskID)
	}

	result.Success = true
	result.Status = models.ExecutionStatusSuccess
	if result.CacheKey != "" {
		s.cache.Put(ctx, result.CacheKey, result)
	}

	s.logger.Debug("SQL executed",
		zap.String("backend", backend),
		zap.String("query_type", string(queryType)),
		zap.Int("row_count", result.RowCount),
		zap.Int64("affected_rows", result.AffectedRows),
		zap.Bool("truncated", result.Truncated),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs))

	s.finish(ctx, result, taskID)
	return result, nil
}

// prepare renders the statement that is sent to the backend. Templates with
// placeholders inside string literals never get here.
func (s *sqlExecutor) prepare(template string, params sqlutil.Params, dialect datasource.Dialect) (string, []any) {
	if s.cfg.NativeBinding && !dialect.InlineLiterals {
		query, args, _ := sqlutil.Bind(template, params)
		return sqlutil.StripTrailingSemicolon(dialect.Rewrite(query)), args
	}
	query, _ := sqlutil.Substitute(template, params)
	return sqlutil.StripTrailingSemicolon(query), nil
}

// run owns the connection for the duration of one statement. Reads and
// procedure calls stream rows; everything else runs inside a transaction.
func (s *sqlExecutor) run(ctx context.Context, backend, query string, args []any, result *models.ExecutionResult) error {
	conn, err := s.backends.Acquire(ctx, backend)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	switch result.QueryType {
	case models.QueryTypeSelect, models.QueryTypeProcedure:
		cur, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		converted, err := s.converter.Convert(ctx, cur, s.cfg.MaxRows)
		if err != nil {
			return err
		}
		result.Columns = converted.Columns
		result.Data = converted.Rows
		result.RowCount = len(converted.Rows)
		result.TotalRows = converted.TotalRows
		result.Truncated = converted.Truncated
		return nil
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	affected, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	result.AffectedRows = affected
	return nil
}

func (s *sqlExecutor) reject(ctx context.Context, result *models.ExecutionResult, params sqlutil.Params, taskID string) (*models.ExecutionResult, error) {
	check := result.Security
	rejectErr := &apperrors.SecurityRejectedError{
		RiskLevel:  check.RiskLevel.String(),
		Violations: check.Violations,
	}

	result.Status = models.ExecutionStatusRejected
	result.ErrorCode = ErrorCodeRejected
	result.ErrorMessage = rejectErr.Error()
	result.FinishedAt = time.Now()

	s.auditor.LogRejection(ctx, result.Backend, taskID, result.SQL, check)
	for _, hit := range sqlutil.CheckAllParameters(params) {
		s.auditor.LogInjectionAttempt(ctx, result.Backend, taskID, audit.SQLInjectionDetails{
			ParamName:   hit.ParamName,
			ParamValue:  hit.ParamValue,
			Fingerprint: hit.Fingerprint,
		})
	}
	if s.metrics != nil {
		s.metrics.RecordRejection(check.RiskLevel)
	}

	s.finish(ctx, result, taskID)
	return result, rejectErr
}

func (s *sqlExecutor) fail(ctx context.Context, result *models.ExecutionResult, err error, taskID string) (*models.ExecutionResult, error) {
	result.Status, result.ErrorCode = failureStatus(err)
	result.ErrorMessage = logging.SanitizeError(err)
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}

	fields := []zap.Field{
		zap.String("backend", result.Backend),
		zap.String("status", string(result.Status)),
		zap.String("error_code", result.ErrorCode),
		zap.String("error", result.ErrorMessage),
	}
	if result.Status == models.ExecutionStatusFailed {
		s.logger.Error("SQL execution failed", fields...)
	} else {
		s.logger.Info("SQL execution interrupted", fields...)
	}

	s.finish(ctx, result, taskID)
	return result, err
}

// failureStatus maps an execution error to the result status and the code
// reported to callers. Vendor codes win over generic ones.
func failureStatus(err error) (models.ExecutionStatus, string) {
	var code string
	var backendErr *apperrors.BackendError
	if errors.As(err, &backendErr) {
		code = backendErr.Code
	}

	switch {
	case errors.Is(err, apperrors.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		if code == "" {
			code = ErrorCodeTimeout
		}
		return models.ExecutionStatusTimedOut, code
	case errors.Is(err, apperrors.ErrCancelled), errors.Is(err, context.Canceled):
		return models.ExecutionStatusCancelled, ErrorCodeCancelled
	case errors.Is(err, apperrors.ErrBackendNotFound):
		return models.ExecutionStatusFailed, ErrorCodeBackendNotFound
	}
	return models.ExecutionStatusFailed, code
}

// finish records the outcome. Sink failures are logged and never change it.
func (s *sqlExecutor) finish(ctx context.Context, result *models.ExecutionResult, taskID string) {
	if s.metrics != nil {
		s.metrics.RecordExecution(result)
	}
	if s.cfg.AuditExecutions {
		s.auditor.LogQueryExecution(ctx, result.Backend, taskID, result)
	}
	if s.sink == nil {
		return
	}
	entry := models.NewExecutionLog(result, result.Parameters, taskID)
	if err := s.sink.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("Failed to record execution log",
			zap.String("backend", result.Backend),
			zap.String("error", logging.SanitizeError(err)))
	}
}

package repositories

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// LoggingSink writes execution records to the structured log. It is the
// sink used when no log database is configured.
type LoggingSink struct {
	logger *zap.Logger
}

func NewLoggingSink(logger *zap.Logger) *LoggingSink {
	return &LoggingSink{logger: logger.Named("execution-log")}
}

var _ ExecutionLogSink = (*LoggingSink)(nil)

func (s *LoggingSink) Record(_ context.Context, entry *models.ExecutionLog) error {
	fields := []zap.Field{
		zap.String("id", entry.ID.String()),
		zap.String("backend", entry.Backend),
		zap.String("query_type", string(entry.QueryType)),
		zap.String("status", string(entry.Status)),
		zap.String("sql", logging.SanitizeQuery(entry.SQL)),
		zap.Any("parameters", entry.Parameters),
		zap.Int("row_count", entry.RowCount),
		zap.Int64("affected_rows", entry.AffectedRows),
		zap.Int64("execution_time_ms", entry.ExecutionTimeMs),
		zap.Bool("from_cache", entry.FromCache),
	}
	if entry.TaskID != "" {
		fields = append(fields, zap.String("task_id", entry.TaskID))
	}
	if entry.ErrorCode != "" || entry.ErrorMessage != "" {
		fields = append(fields,
			zap.String("error_code", entry.ErrorCode),
			zap.String("error_message", entry.ErrorMessage))
	}
	s.logger.Info("SQL execution", fields...)
	return nil
}

// MultiSink fans a record out to several sinks. Every sink is attempted;
// the first error is returned.
type MultiSink []ExecutionLogSink

func (m MultiSink) Record(ctx context.Context, entry *models.ExecutionLog) error {
	var first error
	for _, sink := range m {
		if err := sink.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

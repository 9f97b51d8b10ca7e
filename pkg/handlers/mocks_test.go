package handlers

import (
	"context"
	"time"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/monitor"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/services"
)

type mockExecutor struct {
	result  *models.ExecutionResult
	err     error
	lastReq *services.ExecuteRequest
}

func (m *mockExecutor) Execute(ctx context.Context, req *services.ExecuteRequest) (*models.ExecutionResult, error) {
	m.lastReq = req
	return m.result, m.err
}

func (m *mockExecutor) CheckSQL(sqlText string, params map[string]any) *models.SecurityCheckResult {
	return &models.SecurityCheckResult{Valid: true, Violations: []string{}, RiskLevel: models.RiskLow}
}

func (m *mockExecutor) ValidateComplexity(sqlText string) *models.ComplexityCheckResult {
	return &models.ComplexityCheckResult{Valid: true, Violations: []string{}}
}

type mockTasks struct {
	taskID   string
	status   models.TaskStatus
	result   *services.TaskResult
	err      error
	lastWait time.Duration
	active   []models.TaskInfo
}

func (m *mockTasks) ExecuteAsync(ctx context.Context, req *services.ExecuteRequest) (string, error) {
	return m.taskID, m.err
}

func (m *mockTasks) GetAsyncResult(ctx context.Context, id string, wait time.Duration) (*services.TaskResult, error) {
	m.lastWait = wait
	return m.result, m.err
}

func (m *mockTasks) GetExecutionStatus(id string) models.TaskStatus {
	return m.status
}

func (m *mockTasks) IsComplete(id string) bool {
	return m.status != models.TaskStatusNotFound && m.status.IsTerminal()
}

func (m *mockTasks) Cancel(id string) error {
	return m.err
}

func (m *mockTasks) ActiveTasks() []models.TaskInfo {
	return m.active
}

type mockCache struct {
	stats     models.CacheStats
	removed   int
	err       error
	cleared   bool
	lastLimit int
}

func (m *mockCache) Stats(ctx context.Context) models.CacheStats { return m.stats }

func (m *mockCache) ClearAll(ctx context.Context) error {
	m.cleared = true
	return m.err
}

func (m *mockCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	return m.removed, m.err
}

func (m *mockCache) Optimize(ctx context.Context) (*models.CacheOptimizeReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.CacheOptimizeReport{LiveEntries: 3}, nil
}

func (m *mockCache) ListEntries(ctx context.Context, limit int) ([]models.CacheEntryInfo, error) {
	m.lastLimit = limit
	return []models.CacheEntryInfo{{Key: "q:abc", TTL: time.Minute}}, m.err
}

type mockReporter struct {
	slowLimit int
}

func (m *mockReporter) SystemMetrics(ctx context.Context) *monitor.SystemMetrics {
	return &monitor.SystemMetrics{NumCPU: 4, Goroutines: 10}
}

func (m *mockReporter) History() []monitor.Snapshot {
	return []monitor.Snapshot{{ID: 1, Label: "orders", DurationMs: 12}}
}

func (m *mockReporter) HistoricalStats() monitor.HistoricalStats {
	return monitor.HistoricalStats{Count: 1, AvgDurationMs: 12}
}

func (m *mockReporter) SlowQueries(limit int) []monitor.SlowQuery {
	m.slowLimit = limit
	return []monitor.SlowQuery{{SQL: "SELECT pg_sleep(6)", DurationMs: 6000}}
}

func (m *mockReporter) ActiveExecutions() []monitor.ActiveExecution {
	return nil
}

type mockConnStats struct {
	stats datasource.ConnectionStats
}

func (m *mockConnStats) GetStats() datasource.ConnectionStats { return m.stats }

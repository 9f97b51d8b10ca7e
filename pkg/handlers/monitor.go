package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/monitor"
)

// PerformanceReporter is the read side of the performance monitor.
type PerformanceReporter interface {
	SystemMetrics(ctx context.Context) *monitor.SystemMetrics
	History() []monitor.Snapshot
	HistoricalStats() monitor.HistoricalStats
	SlowQueries(limit int) []monitor.SlowQuery
	ActiveExecutions() []monitor.ActiveExecution
}

var _ PerformanceReporter = (*monitor.Monitor)(nil)

// HistoryResponse pairs the raw window with its aggregate.
type HistoryResponse struct {
	Stats   monitor.HistoricalStats `json:"stats"`
	Entries []monitor.Snapshot      `json:"entries"`
}

// MonitorHandler exposes performance data and Prometheus metrics.
type MonitorHandler struct {
	monitor PerformanceReporter
	metrics http.Handler
	logger  *zap.Logger
}

// NewMonitorHandler creates a monitor handler. metrics may be nil, in which
// case /metrics is not registered.
func NewMonitorHandler(m PerformanceReporter, metrics http.Handler, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{monitor: m, metrics: metrics, logger: logger}
}

// RegisterRoutes registers the monitor handler's routes on the given mux.
func (h *MonitorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/monitor/system", h.System)
	mux.HandleFunc("GET /api/monitor/history", h.History)
	mux.HandleFunc("GET /api/monitor/slow", h.SlowQueries)
	mux.HandleFunc("GET /api/monitor/active", h.Active)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// System handles GET /api/monitor/system.
func (h *MonitorHandler) System(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.monitor.SystemMetrics(r.Context()), h.logger)
}

// History handles GET /api/monitor/history.
func (h *MonitorHandler) History(w http.ResponseWriter, r *http.Request) {
	writeOK(w, HistoryResponse{
		Stats:   h.monitor.HistoricalStats(),
		Entries: h.monitor.History(),
	}, h.logger)
}

// SlowQueries handles GET /api/monitor/slow?limit=N, newest first.
func (h *MonitorHandler) SlowQueries(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0, h.logger)
	if !ok {
		return
	}
	writeOK(w, h.monitor.SlowQueries(limit), h.logger)
}

// Active handles GET /api/monitor/active.
func (h *MonitorHandler) Active(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.monitor.ActiveExecutions(), h.logger)
}

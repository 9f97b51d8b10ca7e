package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// Metrics holds the Prometheus collectors of the execution engine.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ResultRows         prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
	SecurityRejections *prometheus.CounterVec
	AsyncTasks         prometheus.Gauge
	SlowQueries        prometheus.Counter
}

// NewMetrics creates and registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sql_engine",
				Name:      "executions_total",
				Help:      "Total SQL executions by backend, query type and status.",
			},
			[]string{"backend", "query_type", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sql_engine",
				Name:      "execution_duration_seconds",
				Help:      "Duration of live SQL executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend", "query_type"},
		),

		ResultRows: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sql_engine",
				Name:      "result_rows",
				Help:      "Rows returned per successful select.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sql_engine",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"result"},
		),

		SecurityRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sql_engine",
				Name:      "security_rejections_total",
				Help:      "Queries blocked by the static security check, by risk level.",
			},
			[]string{"risk_level"},
		),

		AsyncTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sql_engine",
				Name:      "async_tasks",
				Help:      "Async tasks currently held in the registry.",
			},
		),

		SlowQueries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sql_engine",
				Name:      "slow_queries_total",
				Help:      "Executions that exceeded the slow-query threshold.",
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ResultRows,
		m.CacheLookups,
		m.SecurityRejections,
		m.AsyncTasks,
		m.SlowQueries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordExecution records a finished execution. Cache hits count toward
// executions but not toward the duration histogram.
func (m *Metrics) RecordExecution(result *models.ExecutionResult) {
	m.ExecutionsTotal.WithLabelValues(result.Backend, string(result.QueryType), string(result.Status)).Inc()
	if result.FromCache {
		return
	}
	m.ExecutionDuration.WithLabelValues(result.Backend, string(result.QueryType)).Observe(float64(result.ExecutionTimeMs) / 1000)
	if result.Success && result.QueryType == models.QueryTypeSelect {
		m.ResultRows.Observe(float64(result.TotalRows))
	}
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) RecordRejection(risk models.RiskLevel) {
	m.SecurityRejections.WithLabelValues(risk.String()).Inc()
}

package monitor

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
)

// Level is the qualitative classification of an execution's cost.
type Level string

const (
	LevelExcellent Level = "EXCELLENT"
	LevelGood      Level = "GOOD"
	LevelModerate  Level = "MODERATE"
	LevelPoor      Level = "POOR"
)

type levelThreshold struct {
	level      Level
	duration   time.Duration
	memory     int64
	cpuPercent float64
}

var levelThresholds = []levelThreshold{
	{LevelExcellent, 100 * time.Millisecond, 10 << 20, 10},
	{LevelGood, time.Second, 50 << 20, 30},
	{LevelModerate, 5 * time.Second, 200 << 20, 60},
}

// PerformanceLevel buckets an execution by its worst dimension. Negative
// memory deltas (a GC ran mid-execution) count as zero.
func PerformanceLevel(d time.Duration, memoryDelta int64, cpuPercent float64) Level {
	memoryDelta = max(memoryDelta, 0)
	for _, t := range levelThresholds {
		if d < t.duration && memoryDelta < t.memory && cpuPercent < t.cpuPercent {
			return t.level
		}
	}
	return LevelPoor
}

// Config sizes the monitor's bounded logs.
type Config struct {
	HistorySize        int
	SlowQueryThreshold time.Duration
	SlowQueryLogSize   int
}

func DefaultConfig() Config {
	return Config{
		HistorySize:        1000,
		SlowQueryThreshold: 5 * time.Second,
		SlowQueryLogSize:   100,
	}
}

// Handle tracks one monitored execution between Start and Stop.
type Handle struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`

	startMemory uint64
	startCPU    time.Duration
}

// Snapshot is the folded record of a finished execution.
type Snapshot struct {
	ID               int64     `json:"id"`
	Label            string    `json:"label"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMs       int64     `json:"duration_ms"`
	MemoryDeltaBytes int64     `json:"memory_delta_bytes"`
	CPUTimeDeltaMs   int64     `json:"cpu_time_delta_ms"`
	CPUPercent       float64   `json:"cpu_percent"`
	Level            Level     `json:"level"`
}

// SlowQuery is one entry of the slow-query log.
type SlowQuery struct {
	SQL        string         `json:"sql"`
	DurationMs int64          `json:"duration_ms"`
	Parameters map[string]any `json:"parameters,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// HistoricalStats aggregates the history window.
type HistoricalStats struct {
	Count               int           `json:"count"`
	AvgDurationMs       float64       `json:"avg_duration_ms"`
	MinDurationMs       int64         `json:"min_duration_ms"`
	MaxDurationMs       int64         `json:"max_duration_ms"`
	AvgMemoryDeltaBytes float64       `json:"avg_memory_delta_bytes"`
	MinMemoryDeltaBytes int64         `json:"min_memory_delta_bytes"`
	MaxMemoryDeltaBytes int64         `json:"max_memory_delta_bytes"`
	AvgCPUTimeMs        float64       `json:"avg_cpu_time_ms"`
	MaxCPUTimeMs        int64         `json:"max_cpu_time_ms"`
	Levels              map[Level]int `json:"levels"`
	SlowQueryCount      int           `json:"slow_query_count"`
}

// ActiveExecution is a running execution as seen from outside.
type ActiveExecution struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
	ElapsedMs int64     `json:"elapsed_ms"`
}

// SystemMetrics is a host and process snapshot. Host readings that the
// platform cannot provide are left zero.
type SystemMetrics struct {
	CollectedAt time.Time `json:"collected_at"`
	Uptime      string    `json:"uptime"`

	NumCPU     int     `json:"num_cpu"`
	Goroutines int     `json:"goroutines"`
	CPUPercent float64 `json:"cpu_percent"`
	Load1      float64 `json:"load1"`
	Load5      float64 `json:"load5"`
	Load15     float64 `json:"load15"`

	HeapAllocBytes    uint64  `json:"heap_alloc_bytes"`
	HeapAlloc         string  `json:"heap_alloc"`
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`
	ProcessRSS        string  `json:"process_rss"`
	MemoryTotalBytes  uint64  `json:"memory_total_bytes"`
	MemoryTotal       string  `json:"memory_total"`
	MemoryUsedBytes   uint64  `json:"memory_used_bytes"`
	MemoryUsed        string  `json:"memory_used"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`

	ActiveExecutions int `json:"active_executions"`
	HistorySize      int `json:"history_size"`
	SlowQueryCount   int `json:"slow_query_count"`
}

// Monitor times executions and keeps bounded history and slow-query logs.
type Monitor struct {
	cfg       Config
	sampler   Sampler
	metrics   *Metrics
	logger    *zap.Logger
	startedAt time.Time

	nextID atomic.Int64

	mu      sync.Mutex
	active  map[int64]*Handle
	history *ring[Snapshot]
	slow    *ring[SlowQuery]
}

// New creates a monitor. metrics may be nil.
func New(cfg Config, sampler Sampler, metrics *Metrics, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = def.SlowQueryThreshold
	}
	if cfg.SlowQueryLogSize <= 0 {
		cfg.SlowQueryLogSize = def.SlowQueryLogSize
	}
	return &Monitor{
		cfg:       cfg,
		sampler:   sampler,
		metrics:   metrics,
		logger:    logger.Named("performance-monitor"),
		startedAt: time.Now(),
		active:    make(map[int64]*Handle),
		history:   newRing[Snapshot](cfg.HistorySize),
		slow:      newRing[SlowQuery](cfg.SlowQueryLogSize),
	}
}

// Start begins monitoring an execution.
func (m *Monitor) Start(ctx context.Context, label string) *Handle {
	s := m.sampler.Sample(ctx)
	h := &Handle{
		ID:          m.nextID.Add(1),
		Label:       label,
		StartedAt:   time.Now(),
		startMemory: s.MemoryBytes,
		startCPU:    s.CPUTime,
	}
	m.mu.Lock()
	m.active[h.ID] = h
	m.mu.Unlock()
	return h
}

// Stop computes deltas for h and folds them into the history. Stopping a
// handle that is no longer active returns nil.
func (m *Monitor) Stop(ctx context.Context, h *Handle) *Snapshot {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	_, ok := m.active[h.ID]
	delete(m.active, h.ID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s := m.sampler.Sample(ctx)
	finished := time.Now()
	elapsed := finished.Sub(h.StartedAt)
	cpuDelta := max(s.CPUTime-h.startCPU, 0)

	snap := Snapshot{
		ID:               h.ID,
		Label:            h.Label,
		StartedAt:        h.StartedAt,
		FinishedAt:       finished,
		DurationMs:       elapsed.Milliseconds(),
		MemoryDeltaBytes: int64(s.MemoryBytes) - int64(h.startMemory),
		CPUTimeDeltaMs:   cpuDelta.Milliseconds(),
	}
	if elapsed > 0 {
		snap.CPUPercent = float64(cpuDelta) / float64(elapsed) * 100
	}
	snap.Level = PerformanceLevel(elapsed, snap.MemoryDeltaBytes, snap.CPUPercent)

	m.mu.Lock()
	m.history.push(snap)
	m.mu.Unlock()
	return &snap
}

// RecordSlowQuery logs sqlText when d exceeds the slow-query threshold and
// reports whether it did. params should already be masked.
func (m *Monitor) RecordSlowQuery(sqlText string, d time.Duration, params map[string]any) bool {
	if d <= m.cfg.SlowQueryThreshold {
		return false
	}
	entry := SlowQuery{
		SQL:        sqlText,
		DurationMs: d.Milliseconds(),
		Parameters: params,
		RecordedAt: time.Now(),
	}
	m.mu.Lock()
	m.slow.push(entry)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SlowQueries.Inc()
	}
	m.logger.Warn("Slow query",
		zap.Int64("duration_ms", entry.DurationMs),
		zap.String("sql", logging.SanitizeQuery(logging.TruncateString(sqlText, 500))))
	return true
}

// SlowQueries returns up to limit slow queries, newest first. limit <= 0
// returns all of them.
func (m *Monitor) SlowQueries(limit int) []SlowQuery {
	m.mu.Lock()
	items := m.slow.items()
	m.mu.Unlock()

	out := make([]SlowQuery, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, items[i])
	}
	return out
}

// History returns the history window, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.items()
}

func (m *Monitor) HistoricalStats() HistoricalStats {
	m.mu.Lock()
	items := m.history.items()
	slowCount := m.slow.len()
	m.mu.Unlock()

	stats := HistoricalStats{
		Count:          len(items),
		Levels:         make(map[Level]int),
		SlowQueryCount: slowCount,
	}
	if len(items) == 0 {
		return stats
	}

	var sumDur, sumMem, sumCPU int64
	stats.MinDurationMs = items[0].DurationMs
	stats.MinMemoryDeltaBytes = items[0].MemoryDeltaBytes
	stats.MaxMemoryDeltaBytes = items[0].MemoryDeltaBytes
	for _, s := range items {
		sumDur += s.DurationMs
		sumMem += s.MemoryDeltaBytes
		sumCPU += s.CPUTimeDeltaMs
		stats.MinDurationMs = min(stats.MinDurationMs, s.DurationMs)
		stats.MaxDurationMs = max(stats.MaxDurationMs, s.DurationMs)
		stats.MinMemoryDeltaBytes = min(stats.MinMemoryDeltaBytes, s.MemoryDeltaBytes)
		stats.MaxMemoryDeltaBytes = max(stats.MaxMemoryDeltaBytes, s.MemoryDeltaBytes)
		stats.MaxCPUTimeMs = max(stats.MaxCPUTimeMs, s.CPUTimeDeltaMs)
		stats.Levels[s.Level]++
	}
	n := float64(len(items))
	stats.AvgDurationMs = float64(sumDur) / n
	stats.AvgMemoryDeltaBytes = float64(sumMem) / n
	stats.AvgCPUTimeMs = float64(sumCPU) / n
	return stats
}

// ActiveExecutions lists running executions, oldest first.
func (m *Monitor) ActiveExecutions() []ActiveExecution {
	now := time.Now()
	m.mu.Lock()
	out := make([]ActiveExecution, 0, len(m.active))
	for _, h := range m.active {
		out = append(out, ActiveExecution{
			ID:        h.ID,
			Label:     h.Label,
			StartedAt: h.StartedAt,
			ElapsedMs: now.Sub(h.StartedAt).Milliseconds(),
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SystemMetrics samples the host and this process. Host readings are best
// effort; a failing probe is logged and skipped.
func (m *Monitor) SystemMetrics(ctx context.Context) *SystemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	proc := m.sampler.Sample(ctx)

	out := &SystemMetrics{
		CollectedAt:     time.Now(),
		Uptime:          time.Since(m.startedAt).Round(time.Second).String(),
		NumCPU:          runtime.NumCPU(),
		Goroutines:      runtime.NumGoroutine(),
		HeapAllocBytes:  ms.HeapAlloc,
		HeapAlloc:       humanize.IBytes(ms.HeapAlloc),
		ProcessRSSBytes: proc.MemoryBytes,
		ProcessRSS:      humanize.IBytes(proc.MemoryBytes),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		m.logger.Debug("Virtual memory probe failed", zap.Error(err))
	} else {
		out.MemoryTotalBytes = vm.Total
		out.MemoryTotal = humanize.IBytes(vm.Total)
		out.MemoryUsedBytes = vm.Used
		out.MemoryUsed = humanize.IBytes(vm.Used)
		out.MemoryUsedPercent = vm.UsedPercent
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		m.logger.Debug("CPU probe failed", zap.Error(err))
	} else if len(pct) > 0 {
		out.CPUPercent = pct[0]
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		m.logger.Debug("Load average probe failed", zap.Error(err))
	} else {
		out.Load1, out.Load5, out.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	m.mu.Lock()
	out.ActiveExecutions = len(m.active)
	out.HistorySize = m.history.len()
	out.SlowQueryCount = m.slow.len()
	m.mu.Unlock()
	return out
}

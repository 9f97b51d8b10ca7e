package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-report-engine/pkg/sql"
)

func init() {
	// Concrete types that travel inside Row and Parameters.
	gob.Register(time.Time{})
	gob.Register(decimal.Decimal{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Config bounds what is cached and for how long.
type Config struct {
	MaxEntries    int
	EvictBatch    int
	MaxCachedRows int
	// MinExecution skips results that were cheaper to produce than this.
	MinExecution time.Duration
	DefaultTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:    1000,
		EvictBatch:    100,
		MaxCachedRows: 10000,
		MinExecution:  100 * time.Millisecond,
		DefaultTTL:    time.Hour,
	}
}

// Manager is the content-addressable result cache. Store failures never
// reach the caller: Get degrades to a miss and Put to a no-op.
type Manager struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	// insertMu serializes the count-evict-insert sequence within this process.
	insertMu sync.Mutex

	hits        atomic.Int64
	misses      atomic.Int64
	puts        atomic.Int64
	skipped     atomic.Int64
	evictions   atomic.Int64
	storeErrors atomic.Int64
}

func NewManager(store Store, cfg Config, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.EvictBatch <= 0 {
		cfg.EvictBatch = def.EvictBatch
	}
	if cfg.MaxCachedRows <= 0 {
		cfg.MaxCachedRows = def.MaxCachedRows
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("sql-cache"),
	}
}

// Key derives the cache key for a template run against backend with params.
// Templates that differ only in case, whitespace or comments share a key;
// different backends or parameter values never do.
func Key(backend, sqlText string, params sqlutil.Params) string {
	h := sha256.New()
	h.Write([]byte(backend))
	h.Write([]byte{0})
	h.Write([]byte(sqlutil.NormalizeForKey(sqlText)))
	h.Write([]byte{0})
	h.Write([]byte(params.Canonical()))
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// TTLFor picks the lifetime of a result from how long it took to produce.
func TTLFor(result *models.ExecutionResult, defaultTTL time.Duration) time.Duration {
	switch {
	case result.ExecutionTimeMs > 5000:
		return 2 * time.Hour
	case result.ExecutionTimeMs > 1000:
		return time.Hour
	}
	return defaultTTL
}

// Cacheable reports whether result may be stored, and why not.
func (m *Manager) Cacheable(result *models.ExecutionResult) (bool, string) {
	switch {
	case result == nil || !result.Success:
		return false, "not successful"
	case result.QueryType != models.QueryTypeSelect:
		return false, "not a select"
	case result.TotalRows > m.cfg.MaxCachedRows || len(result.Data) > m.cfg.MaxCachedRows:
		return false, "too many rows"
	case time.Duration(result.ExecutionTimeMs)*time.Millisecond < m.cfg.MinExecution:
		return false, "too fast"
	}
	return true, ""
}

// Get returns a copy of the cached result marked FromCache.
func (m *Manager) Get(ctx context.Context, key string) (*models.ExecutionResult, bool) {
	data, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			m.degraded("get", key, err)
		}
		m.misses.Add(1)
		m.recordAccess(ctx, key, AccessMiss)
		return nil, false
	}

	var result models.ExecutionResult
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&result); err != nil {
		m.logger.Warn("Dropping undecodable cache entry",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)))
		if err := m.store.Delete(ctx, key); err != nil {
			m.degraded("delete", key, err)
		}
		m.misses.Add(1)
		return nil, false
	}

	m.hits.Add(1)
	m.recordAccess(ctx, key, AccessHit)
	result.FromCache = true
	result.CacheKey = key
	return &result, true
}

// Put stores result under key when it qualifies. It reports whether the
// value was written.
func (m *Manager) Put(ctx context.Context, key string, result *models.ExecutionResult) bool {
	if ok, reason := m.Cacheable(result); !ok {
		m.skipped.Add(1)
		m.logger.Debug("Skipping cache store", zap.String("key", key), zap.String("reason", reason))
		return false
	}

	stored := *result
	stored.FromCache = false
	stored.CacheKey = key
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&stored); err != nil {
		m.logger.Warn("Failed to encode result for cache",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)))
		m.skipped.Add(1)
		return false
	}

	m.insertMu.Lock()
	defer m.insertMu.Unlock()

	if err := m.evictIfFull(ctx); err != nil {
		m.degraded("evict", key, err)
		return false
	}

	ttl := TTLFor(result, m.cfg.DefaultTTL)
	if err := m.store.Set(ctx, key, buf.Bytes(), ttl, time.Now()); err != nil {
		m.degraded("set", key, err)
		return false
	}
	m.puts.Add(1)
	m.recordAccess(ctx, key, AccessWrite)
	m.logger.Debug("Cached result",
		zap.String("key", key),
		zap.Int("rows", result.RowCount),
		zap.Duration("ttl", ttl))
	return true
}

// evictIfFull drops the oldest entries when the index is at capacity.
// Must be called with insertMu held.
func (m *Manager) evictIfFull(ctx context.Context) error {
	n, err := m.store.IndexLen(ctx)
	if err != nil {
		return err
	}
	if n < int64(m.cfg.MaxEntries) {
		return nil
	}

	batch := max(m.cfg.EvictBatch, int(n)-m.cfg.MaxEntries+1)
	oldest, err := m.store.Index(ctx, batch)
	if err != nil {
		return err
	}
	keys := make([]string, len(oldest))
	for i, e := range oldest {
		keys[i] = e.Key
	}
	if err := m.store.Delete(ctx, keys...); err != nil {
		return err
	}
	m.evictions.Add(int64(len(keys)))
	m.logger.Info("Evicted oldest cache entries",
		zap.Int("evicted", len(keys)),
		zap.Int64("size_before", n))
	return nil
}

// Invalidate removes every indexed key matching the glob pattern and
// returns how many were removed.
func (m *Manager) Invalidate(ctx context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	entries, err := m.store.Index(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("read cache index: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if ok, _ := path.Match(pattern, e.Key); ok {
			keys = append(keys, e.Key)
		}
	}
	if err := m.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("delete cache keys: %w", err)
	}
	m.logger.Info("Invalidated cache entries",
		zap.String("pattern", pattern),
		zap.Int("removed", len(keys)))
	return len(keys), nil
}

func (m *Manager) ClearAll(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	m.logger.Info("Cleared cache")
	return nil
}

func (m *Manager) Stats(ctx context.Context) models.CacheStats {
	stats := models.CacheStats{
		Store:       m.store.Name(),
		MaxEntries:  m.cfg.MaxEntries,
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		Puts:        m.puts.Load(),
		Skipped:     m.skipped.Load(),
		Evictions:   m.evictions.Load(),
		StoreErrors: m.storeErrors.Load(),
	}
	if lookups := stats.Hits + stats.Misses; lookups > 0 {
		stats.HitRate = float64(stats.Hits) / float64(lookups)
	}
	if n, err := m.store.IndexLen(ctx); err != nil {
		m.degraded("stats", "", err)
	} else {
		stats.Entries = n
	}
	return stats
}

// ListEntries describes up to limit live entries, oldest first.
func (m *Manager) ListEntries(ctx context.Context, limit int) ([]models.CacheEntryInfo, error) {
	entries, err := m.store.Index(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("read cache index: %w", err)
	}
	out := make([]models.CacheEntryInfo, 0, min(len(entries), max(limit, 0)))
	for _, e := range entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		ttl, err := m.store.TTL(ctx, e.Key)
		if err != nil {
			return nil, fmt.Errorf("read ttl for %s: %w", e.Key, err)
		}
		if ttl <= 0 {
			continue
		}
		access, err := m.store.Access(ctx, e.Key)
		if err != nil {
			return nil, fmt.Errorf("read counters for %s: %w", e.Key, err)
		}
		info := models.CacheEntryInfo{
			Key:       e.Key,
			CreatedAt: e.CreatedAt,
			TTL:       ttl,
			Hits:      access.Hits,
			Misses:    access.Misses,
		}
		if !access.LastAccessed.IsZero() {
			last := access.LastAccessed
			info.LastAccessed = &last
		}
		out = append(out, info)
	}
	return out, nil
}

// Optimize removes index entries whose value has expired and counters
// that belong to no live entry.
func (m *Manager) Optimize(ctx context.Context) (*models.CacheOptimizeReport, error) {
	entries, err := m.store.Index(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("read cache index: %w", err)
	}

	live := make(map[string]struct{}, len(entries))
	var orphaned []string
	for _, e := range entries {
		ok, err := m.store.Exists(ctx, e.Key)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", e.Key, err)
		}
		if ok {
			live[e.Key] = struct{}{}
		} else {
			orphaned = append(orphaned, e.Key)
		}
	}
	if err := m.store.RemoveFromIndex(ctx, orphaned...); err != nil {
		return nil, fmt.Errorf("prune index: %w", err)
	}

	counterKeys, err := m.store.AccessKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	var staleCounters []string
	for _, k := range counterKeys {
		if _, ok := live[k]; !ok {
			staleCounters = append(staleCounters, k)
		}
	}
	if err := m.store.DeleteAccess(ctx, staleCounters...); err != nil {
		return nil, fmt.Errorf("prune counters: %w", err)
	}

	report := &models.CacheOptimizeReport{
		OrphanedIndexEntries: len(orphaned),
		OrphanedCounters:     len(staleCounters),
		LiveEntries:          len(live),
	}
	m.logger.Info("Optimized cache",
		zap.Int("orphaned_index_entries", report.OrphanedIndexEntries),
		zap.Int("orphaned_counters", report.OrphanedCounters),
		zap.Int("live_entries", report.LiveEntries))
	return report, nil
}

func (m *Manager) recordAccess(ctx context.Context, key string, kind AccessKind) {
	if err := m.store.RecordAccess(ctx, key, kind, time.Now()); err != nil {
		m.degraded("record access", key, err)
	}
}

func (m *Manager) degraded(op, key string, err error) {
	m.storeErrors.Add(1)
	m.logger.Warn("Cache store unavailable, continuing without cache",
		zap.String("op", op),
		zap.String("store", m.store.Name()),
		zap.String("key", key),
		zap.String("error", logging.SanitizeError(err)))
}

package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultPoolMaxConns         = 10
	DefaultPoolMinConns         = 1

	// Pools idle for longer than this are pinged before reuse.
	healthCheckAfter = 30 * time.Second
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes   int
	PoolMaxConns int32
	PoolMinConns int32
}

// ConnectionManager owns one lazily created pool per configured backend.
// Pools unused for longer than the TTL are closed by a background sweep and
// reopened on the next Acquire.
type ConnectionManager struct {
	mu          sync.RWMutex
	backends    map[string]BackendConfig
	connections map[string]*ManagedConnection // key: backend name
	cfg         ConnectionManagerConfig
	ttl         time.Duration
	stopped     bool
	stopChan    chan struct{}
	logger      *zap.Logger
}

// ManagedConnection is a pool plus its last use time.
type ManagedConnection struct {
	connector PoolConnector
	lastUsed  time.Time
	mu        sync.Mutex
}

// NewConnectionManager creates a connection manager for the given backends.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, backends map[string]BackendConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	copied := make(map[string]BackendConfig, len(backends))
	for name, b := range backends {
		copied[name] = b
	}

	manager := &ConnectionManager{
		backends:    copied,
		connections: make(map[string]*ManagedConnection),
		cfg:         cfg,
		ttl:         time.Duration(cfg.TTLMinutes) * time.Minute,
		stopChan:    make(chan struct{}),
		logger:      logger.Named("connection-manager"),
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// Backends returns the configured backend names, sorted.
func (m *ConnectionManager) Backends() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dialect returns the dialect of a configured backend.
func (m *ConnectionManager) Dialect(backend string) (Dialect, error) {
	m.mu.RLock()
	cfg, ok := m.backends[backend]
	m.mu.RUnlock()
	if !ok {
		return Dialect{}, fmt.Errorf("%w: %s", apperrors.ErrBackendNotFound, backend)
	}
	d, ok := GetDialect(cfg.Type)
	if !ok {
		return Dialect{}, fmt.Errorf("backend %s: adapter type %q is not registered", backend, cfg.Type)
	}
	return d, nil
}

// Acquire checks out a connection from the backend's pool, creating the pool
// on first use.
func (m *ConnectionManager) Acquire(ctx context.Context, backend string) (Conn, error) {
	connector, err := m.GetOrCreatePool(ctx, backend)
	if err != nil {
		return nil, err
	}
	conn, err := connector.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// GetOrCreatePool returns the pool for backend. Pools that sat idle are
// health-checked first and recreated when the ping fails.
func (m *ConnectionManager) GetOrCreatePool(ctx context.Context, backend string) (PoolConnector, error) {
	m.mu.RLock()
	stopped := m.stopped
	backendCfg, configured := m.backends[backend]
	managed, exists := m.connections[backend]
	m.mu.RUnlock()

	if stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}
	if !configured {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBackendNotFound, backend)
	}

	if exists {
		managed.mu.Lock()
		idle := time.Since(managed.lastUsed)
		managed.mu.Unlock()

		if idle > healthCheckAfter {
			healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
				return managed.connector.Ping(healthCtx)
			})
			cancel()

			if err != nil {
				m.logger.Warn("connection pool unhealthy, recreating",
					zap.String("backend", backend),
					zap.String("error", logging.SanitizeError(err)),
				)
				m.removeConnection(backend)
				return m.createNewPool(ctx, backend, backendCfg)
			}
		}

		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.connector, nil
	}

	return m.createNewPool(ctx, backend, backendCfg)
}

// createNewPool creates a pool with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createNewPool(ctx context.Context, backend string, backendCfg BackendConfig) (PoolConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have created it while we waited for the lock
	if managed, exists := m.connections[backend]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.connector, nil
	}

	factory := GetPoolFactory(backendCfg.Type)
	if factory == nil {
		return nil, fmt.Errorf("backend %s: adapter type %q is not registered", backend, backendCfg.Type)
	}

	poolCfg := m.cfg
	if backendCfg.MaxConns > 0 {
		poolCfg.PoolMaxConns = backendCfg.MaxConns
	}

	connector, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (PoolConnector, error) {
		return factory(ctx, backend, backendCfg, poolCfg)
	})
	if err != nil {
		m.logger.Error("failed to create pool after retries",
			zap.String("backend", backend),
			zap.String("type", backendCfg.Type),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create pool for %s after retries: %w", backend, err)
	}

	m.connections[backend] = &ManagedConnection{
		connector: connector,
		lastUsed:  time.Now(),
	}

	m.logger.Info("created new connection pool",
		zap.String("backend", backend),
		zap.String("type", connector.GetType()),
		zap.Int32("maxConns", poolCfg.PoolMaxConns),
	)

	return connector, nil
}

// removeConnection closes and forgets the pool for backend.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removeConnection(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[backend]; exists && managed != nil {
		m.closeConnector(backend, managed.connector)
		delete(m.connections, backend)
		m.logger.Debug("removed connection pool", zap.String("backend", backend))
	}
}

func (m *ConnectionManager) closeConnector(backend string, connector PoolConnector) {
	if connector == nil {
		return
	}
	if err := connector.Close(); err != nil {
		m.logger.Warn("failed to close connection pool",
			zap.String("backend", backend),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

// cleanupExpiredConnections runs periodically to remove expired pools.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes pools that haven't been used within TTL.
// Lock order is manager lock, then connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expired []string

	for backend, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idleTime > m.ttl {
			expired = append(expired, backend)
			m.logger.Debug("marking connection pool for cleanup",
				zap.String("backend", backend),
				zap.Duration("idleTime", idleTime),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, backend := range expired {
		m.closeConnector(backend, m.connections[backend].connector)
		delete(m.connections, backend)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up expired connection pools",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all pools and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for backend, managed := range m.connections {
		if managed != nil {
			m.closeConnector(backend, managed.connector)
		}
	}

	m.connections = make(map[string]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		ConfiguredBackends: len(m.backends),
		OpenPools:          len(m.connections),
		TTLMinutes:         int(m.ttl.Minutes()),
		PoolsByType:        make(map[string]int),
	}

	for _, managed := range m.connections {
		if managed == nil {
			continue
		}
		stats.PoolsByType[managed.connector.GetType()]++

		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	ConfiguredBackends int            `json:"configured_backends"`
	OpenPools          int            `json:"open_pools"`
	TTLMinutes         int            `json:"ttl_minutes"`
	PoolsByType        map[string]int `json:"pools_by_type"`
	OldestIdleSeconds  int            `json:"oldest_idle_seconds"`
}

var _ ConnectionProvider = (*ConnectionManager)(nil)

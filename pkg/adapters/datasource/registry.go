package datasource

import (
	"context"
	"sort"
	"sync"
)

// AdapterInfo describes a registered backend adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql", "sqlite"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// PoolFactory opens a pool for one named backend.
type PoolFactory func(ctx context.Context, name string, cfg BackendConfig, mgr ConnectionManagerConfig) (PoolConnector, error)

// AdapterRegistration contains info plus the factory that opens pools.
type AdapterRegistration struct {
	Info        AdapterInfo
	Dialect     Dialect
	PoolFactory PoolFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetPoolFactory returns the pool factory for a backend type.
// Returns nil if type is not registered.
func GetPoolFactory(backendType string) PoolFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[backendType]; ok {
		return reg.PoolFactory
	}
	return nil
}

// GetDialect returns the dialect registered for a backend type.
func GetDialect(backendType string) (Dialect, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[backendType]
	return reg.Dialect, ok
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(backendType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[backendType]
	return ok
}

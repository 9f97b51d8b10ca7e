package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// AccessKind is the event recorded against a key's counters.
type AccessKind int

const (
	AccessHit AccessKind = iota
	AccessMiss
	// AccessWrite only refreshes the last-access time.
	AccessWrite
)

// IndexEntry is one key in the insertion-ordered index.
type IndexEntry struct {
	Key       string
	CreatedAt time.Time
}

// AccessStats are the per-key counters.
type AccessStats struct {
	Hits         int64
	Misses       int64
	LastAccessed time.Time
}

// Store is the key-value backend of the result cache. Values expire on
// their own; the index and the access counters are reconciled by the
// manager's Optimize pass. Implementations must be safe for concurrent use
// and must increment counters atomically per key.
type Store interface {
	Name() string
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value with ttl and records key in the index.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, createdAt time.Time) error
	// Delete removes values, index entries and counters for keys.
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime, or zero when the key is gone.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Index returns up to limit index entries, oldest first. limit <= 0
	// returns all of them.
	Index(ctx context.Context, limit int) ([]IndexEntry, error)
	IndexLen(ctx context.Context) (int64, error)
	RemoveFromIndex(ctx context.Context, keys ...string) error

	RecordAccess(ctx context.Context, key string, kind AccessKind, at time.Time) error
	Access(ctx context.Context, key string) (AccessStats, error)
	// AccessKeys lists every key that has counters, live or not.
	AccessKeys(ctx context.Context) ([]string, error)
	DeleteAccess(ctx context.Context, keys ...string) error

	Clear(ctx context.Context) error
}

package models

import "time"

// CacheStats summarizes the result cache.
type CacheStats struct {
	Store       string  `json:"store"`
	Entries     int64   `json:"entries"`
	MaxEntries  int     `json:"max_entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Puts        int64   `json:"puts"`
	Skipped     int64   `json:"skipped"`
	Evictions   int64   `json:"evictions"`
	StoreErrors int64   `json:"store_errors"`
}

// CacheEntryInfo describes one live cache entry.
type CacheEntryInfo struct {
	Key          string        `json:"key"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"ttl"`
	Hits         int64         `json:"hits"`
	Misses       int64         `json:"misses"`
	LastAccessed *time.Time    `json:"last_accessed,omitempty"`
}

// CacheOptimizeReport is returned by the maintenance pass.
type CacheOptimizeReport struct {
	OrphanedIndexEntries int `json:"orphaned_index_entries"`
	OrphanedCounters     int `json:"orphaned_counters"`
	LiveEntries          int `json:"live_entries"`
}

package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expiry is lazy: an expired value is
// dropped on the next read but its index entry stays until Optimize, the
// same way Redis behaves.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memoryValue
	index   map[string]time.Time
	access  map[string]*AccessStats
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memoryValue),
		index:   make(map[string]time.Time),
		access:  make(map[string]*AccessStats),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Ping(context.Context) error { return nil }

// liveValue must be called with s.mu held.
func (s *MemoryStore) liveValue(key string) (memoryValue, bool) {
	v, ok := s.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !v.expiresAt.IsZero() && !s.nowFunc().Before(v.expiresAt) {
		delete(s.values, key)
		return memoryValue{}, false
	}
	return v, true
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.liveValue(key)
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), v.data...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := memoryValue{data: append([]byte(nil), value...)}
	if ttl > 0 {
		v.expiresAt = s.nowFunc().Add(ttl)
	}
	s.values[key] = v
	s.index[key] = createdAt
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
		delete(s.index, k)
		delete(s.access, k)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.liveValue(key)
	return ok, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.liveValue(key)
	if !ok || v.expiresAt.IsZero() {
		return 0, nil
	}
	return v.expiresAt.Sub(s.nowFunc()), nil
}

func (s *MemoryStore) Index(_ context.Context, limit int) ([]IndexEntry, error) {
	s.mu.Lock()
	entries := make([]IndexEntry, 0, len(s.index))
	for k, at := range s.index {
		entries = append(entries, IndexEntry{Key: k, CreatedAt: at})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) IndexLen(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.index)), nil
}

func (s *MemoryStore) RemoveFromIndex(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.index, k)
	}
	return nil
}

func (s *MemoryStore) RecordAccess(_ context.Context, key string, kind AccessKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.access[key]
	if !ok {
		st = &AccessStats{}
		s.access[key] = st
	}
	switch kind {
	case AccessHit:
		st.Hits++
	case AccessMiss:
		st.Misses++
	}
	st.LastAccessed = at
	return nil
}

func (s *MemoryStore) Access(_ context.Context, key string) (AccessStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.access[key]; ok {
		return *st, nil
	}
	return AccessStats{}, nil
}

func (s *MemoryStore) AccessKeys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.access))
	for k := range s.access {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) DeleteAccess(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.access, k)
	}
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]memoryValue)
	s.index = make(map[string]time.Time)
	s.access = make(map[string]*AccessStats)
	return nil
}

var _ Store = (*MemoryStore)(nil)

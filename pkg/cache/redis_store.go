package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

const (
	// KeyPrefix namespaces cached values.
	KeyPrefix = "sql_cache:"

	indexKey    = "sql_cache_index"
	statsPrefix = "sql_cache_stats:"
	scanCount   = 200

	fieldHits         = "hits"
	fieldMisses       = "misses"
	fieldLastAccessed = "last_accessed"
)

// RedisStore keeps values as plain keys with EXPIRE, the insertion index as
// a sorted set scored by creation time, and per-key counters as hashes
// updated with HINCRBY.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func statsKey(key string) string { return statsPrefix + key }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, createdAt time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(createdAt.UnixMilli()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	stats := make([]string, len(keys))
	for i, k := range keys {
		members[i] = k
		stats[i] = statsKey(k)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, indexKey, members...)
	pipe.Del(ctx, stats...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl: %w", err)
	}
	// -1 (no expiry) and -2 (missing) both come back negative.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Index(ctx context.Context, limit int) ([]IndexEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	zs, err := s.client.ZRangeWithScores(ctx, indexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	entries := make([]IndexEntry, 0, len(zs))
	for _, z := range zs {
		entries = append(entries, IndexEntry{
			Key:       cast.ToString(z.Member),
			CreatedAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return entries, nil
}

func (s *RedisStore) IndexLen(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return n, nil
}

func (s *RedisStore) RemoveFromIndex(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := s.client.ZRem(ctx, indexKey, members...).Err(); err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	return nil
}

func (s *RedisStore) RecordAccess(ctx context.Context, key string, kind AccessKind, at time.Time) error {
	sk := statsKey(key)
	pipe := s.client.TxPipeline()
	switch kind {
	case AccessHit:
		pipe.HIncrBy(ctx, sk, fieldHits, 1)
	case AccessMiss:
		pipe.HIncrBy(ctx, sk, fieldMisses, 1)
	}
	pipe.HSet(ctx, sk, fieldLastAccessed, strconv.FormatInt(at.UnixMilli(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record access: %w", err)
	}
	return nil
}

func (s *RedisStore) Access(ctx context.Context, key string) (AccessStats, error) {
	fields, err := s.client.HGetAll(ctx, statsKey(key)).Result()
	if err != nil {
		return AccessStats{}, fmt.Errorf("redis hgetall: %w", err)
	}
	st := AccessStats{
		Hits:   cast.ToInt64(fields[fieldHits]),
		Misses: cast.ToInt64(fields[fieldMisses]),
	}
	if ms := cast.ToInt64(fields[fieldLastAccessed]); ms > 0 {
		st.LastAccessed = time.UnixMilli(ms)
	}
	return st, nil
}

func (s *RedisStore) AccessKeys(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx, statsPrefix+"*")
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, statsPrefix)
	}
	return keys, nil
}

func (s *RedisStore) DeleteAccess(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	stats := make([]string, len(keys))
	for i, k := range keys {
		stats[i] = statsKey(k)
	}
	if err := s.client.Del(ctx, stats...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every cache key, including values no longer in the index.
func (s *RedisStore) Clear(ctx context.Context) error {
	values, err := s.scan(ctx, KeyPrefix+"*")
	if err != nil {
		return err
	}
	stats, err := s.scan(ctx, statsPrefix+"*")
	if err != nil {
		return err
	}
	all := append(append(values, stats...), indexKey)
	if err := s.client.Del(ctx, all...).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func (s *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, nil
}

var _ Store = (*RedisStore)(nil)

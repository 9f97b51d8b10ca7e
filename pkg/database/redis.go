package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/retry"
)

// RedisOptions describes the Redis instance backing the result cache.
type RedisOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient creates a Redis client and waits for it to answer a ping.
// Returns nil if Redis is not configured (host is empty).
func NewRedisClient(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	if opts.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			logger.Warn("Redis not reachable yet",
				zap.String("addr", client.Options().Addr),
				zap.Error(pingErr))
			return pingErr
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

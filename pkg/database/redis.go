package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

// RedisClient wraps redis.Client with the durability operations the Task
// Queue's KVStore adapter (collaborators/kv) drives: plain Get/Set/Del/Eval
// inherited from the embedded client, plus health and shutdown. Trimmed
// from the teacher's generic layered-cache wrapper (L1/L2/L3 promotion,
// compression, query-result fallback caching) down to what a durable task
// queue actually needs — the orchestrator has no read-heavy cache path for
// those layers to serve.
type RedisClient struct {
	*redis.Client
	logger *observability.Logger
}

// NewRedisClient connects to the Redis instance backing the Task Queue's
// durability store (spec §4.3).
func NewRedisClient(cfg config.RedisConfig, logger *observability.Logger) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.PoolTimeout = cfg.PoolTimeout
	opt.MaxRetries = cfg.MaxRetries
	opt.MinRetryBackoff = cfg.MinRetryBackoff
	opt.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info(context.Background(), "task queue redis store connected", map[string]interface{}{
		"pool_size":      opt.PoolSize,
		"min_idle_conns": opt.MinIdleConns,
	})

	return &RedisClient{Client: client, logger: logger}, nil
}

// Close closes the underlying connection.
func (r *RedisClient) Close() error {
	r.logger.Info(context.Background(), "closing task queue redis store", nil)
	return r.Client.Close()
}

// Health pings Redis, warning (not failing) when latency crosses a
// threshold worth paging on.
func (r *RedisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if latency := time.Since(start); latency > 100*time.Millisecond {
		r.logger.Warn(ctx, "high redis latency on task queue store", map[string]interface{}{
			"latency_ms": latency.Milliseconds(),
		})
	}
	return nil
}

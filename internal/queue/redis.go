package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/final5team-odiga/EssayAgents/pkg/config"
	"github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/logging"
	"github.com/final5team-odiga/EssayAgents/pkg/metrics"
)

// RedisClient wraps the Redis client with additional functionality
type RedisClient struct {
	client *redis.Client
	config *config.RedisConfig
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	// Create Redis client options
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		// Connection timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		// Pool timeouts
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		// Retry configuration
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return &RedisClient{
		client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisClient) Health(ctx context.Context) error {
	if r.client == nil {
		return errors.NewInternalError("Redis client is nil")
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewInternalError("Redis health check failed").WithCause(err)
	}

	return nil
}

// Client returns the underlying Redis client
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Config returns the Redis configuration
func (r *RedisClient) Config() *config.RedisConfig {
	return r.config
}

// Stats returns Redis connection statistics
func (r *RedisClient) Stats() *redis.PoolStats {
	return r.client.PoolStats()
}

// Set sets a key-value pair with optional expiration
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := r.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return errors.NewInternalError("failed to set Redis key").WithCause(err)
	}
	return nil
}

// Get gets a value by key
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.NewNotFoundError("key")
		}
		return "", errors.NewInternalError("failed to get Redis key").WithCause(err)
	}
	return val, nil
}

// Del deletes keys
func (r *RedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	count, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to delete keys").WithCause(err)
	}
	return count, nil
}

// Exists checks if keys exist
func (r *RedisClient) Exists(ctx context.Context, keys ...string) (int64, error) {
	count, err := r.client.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to check key existence").WithCause(err)
	}
	return count, nil
}

// Keys returns all keys matching the pattern
func (r *RedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, errors.NewInternalError("failed to get Redis keys").WithCause(err)
	}
	return keys, nil
}

// HSet sets hash fields
func (r *RedisClient) HSet(ctx context.Context, key string, values ...interface{}) error {
	if err := r.client.HSet(ctx, key, values...).Err(); err != nil {
		return errors.NewInternalError("failed to set Redis hash").WithCause(err)
	}
	return nil
}

// HGetAll gets all hash fields
func (r *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.NewInternalError("failed to get Redis hash").WithCause(err)
	}
	return val, nil
}

// Expire sets a timeout on a key
func (r *RedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if err := r.client.Expire(ctx, key, expiration).Err(); err != nil {
		return errors.NewInternalError("failed to set Redis key expiration").WithCause(err)
	}
	return nil
}

// TTL returns the time to live of a key
func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to get Redis key TTL").WithCause(err)
	}
	return ttl, nil
}

// Default archive budgets
const (
	DefaultArchiveTTL     = 24 * time.Hour
	DefaultArchiveTimeout = 2 * time.Second
)

// ResultArchive is a fire-and-forget Redis sink for finished work items. The
// core never reads it back; writes run under their own independent timeout and
// a failed write is logged, never propagated.
type ResultArchive struct {
	redis   *RedisClient
	ttl     time.Duration
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewResultArchive creates a new result archive. A non-positive ttl falls back
// to the 24h default.
func NewResultArchive(redisClient *RedisClient, ttl time.Duration, m *metrics.Metrics) *ResultArchive {
	if ttl <= 0 {
		ttl = DefaultArchiveTTL
	}

	return &ResultArchive{
		redis:   redisClient,
		ttl:     ttl,
		timeout: DefaultArchiveTimeout,
		logger:  logging.GetLogger().WithComponent("result_archive"),
		metrics: m,
	}
}

// Key returns the archive key for a session and item id
func (a *ResultArchive) Key(sessionID, itemID string) string {
	return fmt.Sprintf("result:%s:%s", sessionID, itemID)
}

// Store writes a finished result under result:<sessionID>:<itemID> with the
// archive TTL. Best-effort: all failures are swallowed after logging.
func (a *ResultArchive) Store(sessionID, itemID string, res Result) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	payload, err := json.Marshal(res)
	if err != nil {
		a.logger.Warn("Result archive marshal failed",
			"item_id", itemID,
			"error", err.Error(),
		)
		a.metrics.RecordArchiveOperation("store", "error", time.Since(start))
		return
	}

	key := a.Key(sessionID, itemID)
	if err := a.redis.Set(ctx, key, payload, a.ttl); err != nil {
		a.logger.Warn("Result archive write failed",
			"key", key,
			"error", err.Error(),
		)
		a.metrics.RecordArchiveOperation("store", "error", time.Since(start))
		return
	}

	a.metrics.RecordArchiveOperation("store", "success", time.Since(start))
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// RedisCache wraps the Redis client with typed operations
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return NewFromClient(client, cfg.KeyPrefix, log), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, keyPrefix string, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    log,
	}
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.key(key)).Result()
}

// GetJSON retrieves and unmarshals a JSON value from cache
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// Set stores a value in cache with optional TTL
func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// SetJSON marshals and stores a value in cache
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Delete removes keys from cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = c.key(k)
	}
	return c.client.Del(ctx, prefixedKeys...).Err()
}

// Cache key namespaces
const (
	KeyResponsePrefix  = "cache:"
	KeyRateLimitPrefix = "rate_limit:"
)

// InvalidateResponse drops a cached search response
func (c *RedisCache) InvalidateResponse(ctx context.Context, key string) error {
	return c.Delete(ctx, KeyResponsePrefix+key)
}

// ClientStats is a snapshot of the client connection pool
type ClientStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// Stats returns connection pool statistics
func (c *RedisCache) Stats(context.Context) (any, error) {
	st := c.client.PoolStats()
	return ClientStats{
		Hits:       st.Hits,
		Misses:     st.Misses,
		Timeouts:   st.Timeouts,
		TotalConns: st.TotalConns,
		IdleConns:  st.IdleConns,
		StaleConns: st.StaleConns,
	}, nil
}

// GetResponse returns a cached search response; ok is false on a miss
func (c *RedisCache) GetResponse(ctx context.Context, key string) (*models.SearchResponse, bool, error) {
	var resp models.SearchResponse
	err := c.GetJSON(ctx, KeyResponsePrefix+key, &resp)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached response: %w", err)
	}
	return &resp, true, nil
}

// PutResponse caches a complete search response
func (c *RedisCache) PutResponse(ctx context.Context, key string, resp *models.SearchResponse, ttl time.Duration) error {
	return c.SetJSON(ctx, KeyResponsePrefix+key, resp, ttl)
}

// CheckRateLimit checks and increments the rate limit counter
// Returns (allowed, remaining, resetTime, error)
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	now := time.Now()
	windowKey := rateLimitKey(key, now, window)

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, c.key(windowKey))
	pipe.Expire(ctx, c.key(windowKey), window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, windowStart(now, window).Add(window), nil
}

// rateLimitKey buckets requests into fixed windows
func rateLimitKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%s%s:%d", KeyRateLimitPrefix, key, windowStart(now, window).Unix())
}

func windowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = time.Minute
	}
	return now.Truncate(window)
}

package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/welldanyogia/steel-scrap-yard/internal/config"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "scrapyard:"

// Cache stores serialised analytics results
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// NopCache never stores anything
type NopCache struct{}

// Get always misses
func (NopCache) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

// Set discards value
func (NopCache) Set(context.Context, string, []byte) error { return nil }

// RedisCache keeps entries in Redis with a fixed TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	ttl := cfg.AnalyticsTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns the stored value or ErrCacheMiss
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

// Set stores value for the configured TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.SetEx(ctx, keyPrefix+key, value, c.ttl).Err()
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}

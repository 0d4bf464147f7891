// Package cache is a content-addressed response cache over redis. Collector
// requests are keyed by a hash of their parameters, so identical lookups
// across runs and across workers hit the cache instead of the upstream.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keystone-reo/distress-scanner/internal/config"
)

// Default TTLs per source. Positive geocode results never reach redis; the
// Resolver holds them in-process for the run.
const (
	TTLSTAC     = 7 * 24 * time.Hour
	TTLFlood    = 30 * 24 * time.Hour
	TTLNegative = 600 * time.Second
)

// Cache wraps a redis client. A nil *Cache is valid and always misses, so
// callers never branch on whether caching is configured.
type Cache struct {
	rdb *redis.Client
}

// New connects to redis per cfg. Empty addr disables caching.
func New(cfg config.RedisConfig) *Cache {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{rdb: rdb}
}

// NewWithClient wraps an existing client (used in tests with miniredis).
func NewWithClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Key builds the storage key for a source and its request parameters.
func Key(source string, params any) string {
	data, _ := json.Marshal(params)
	return fmt.Sprintf("ds:%s:%x", source, xxhash.Sum64(data))
}

// Get unmarshals a cached response into out. Returns false on miss, on a
// disabled cache, and on any redis error; a broken cache must never break
// a scan.
func (c *Cache) Get(ctx context.Context, source string, params any, out any) bool {
	if c == nil {
		return false
	}
	data, err := c.rdb.Get(ctx, Key(source, params)).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// Set stores a response. ttl <= 0 means no expiry.
func (c *Cache) Set(ctx context.Context, source string, params any, val any, ttl time.Duration) {
	if c == nil {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, Key(source, params), data, ttl)
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

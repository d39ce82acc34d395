// Package cache is an optional redis read-through in front of /checkchat.
//
// The key is a hash of the canonical request; the TTL equals the freshness
// window, so a cache hit can never outlive what the log store would have
// served. The cache is strictly an accelerator: a miss or a redis failure
// falls back to the store lookup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// ResponseCache stores upstream response bodies keyed by request hash.
type ResponseCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to redis at redisURL. ttl should be the checkchat freshness
// window.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*ResponseCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &ResponseCache{rdb: rdb, ttl: ttl}, nil
}

// Close closes the redis connection.
func (c *ResponseCache) Close() error {
	return c.rdb.Close()
}

func key(serializedRequest string) string {
	sum := sha256.Sum256([]byte(serializedRequest))
	return "checkchat:" + hex.EncodeToString(sum[:])
}

// Get returns the cached response for a canonical request, if present.
func (c *ResponseCache) Get(ctx context.Context, serializedRequest string) (string, bool) {
	val, err := c.rdb.Get(ctx, key(serializedRequest)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Warn().Err(err).Msg("cache: get failed, falling back to store")
		return "", false
	}
	return val, true
}

// Set stores a response under the canonical request for one freshness
// window. Failures are logged and ignored; the store remains authoritative.
func (c *ResponseCache) Set(ctx context.Context, serializedRequest, response string) {
	if err := c.rdb.Set(ctx, key(serializedRequest), response, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("cache: set failed")
	}
}

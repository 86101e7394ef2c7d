// Package cache stores canonical formatter output in Redis, keyed by the
// formatter version, the depth limit and a hash of the raw input.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"synkdocs/api/internal/prosemirror"
)

const defaultTTL = time.Hour

// Entry is one cached formatting result. Stats are those of the pass that
// produced Output, so a hit reports the same changes as the original call.
// Output is stored base64 encoded so its bytes come back unchanged.
type Entry struct {
	Output []byte            `json:"output"`
	Stats  prosemirror.Stats `json:"stats"`
}

// RedisCache implements format output caching using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection. Entries
// are scoped to formatterVersion and maxDepth (0 = unbounded) so instances
// with different limits never share results.
func NewRedisCache(redisURL, formatterVersion string, maxDepth int) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, formatterVersion, maxDepth), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, formatterVersion string, maxDepth int) *RedisCache {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &RedisCache{
		client: client,
		prefix: "fmt:" + formatterVersion + ":d" + strconv.Itoa(maxDepth) + ":",
	}
}

// Key returns the Redis key for an input document.
func (c *RedisCache) Key(input []byte) string {
	sum := blake2b.Sum256(input)
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached entry for input. A miss returns ok=false and no
// error. An unreadable entry is reported as an error.
func (c *RedisCache) Get(ctx context.Context, input []byte) (Entry, bool, error) {
	value, err := c.client.Get(ctx, c.Key(input)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup format cache: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode format cache entry: %w", err)
	}
	return entry, true, nil
}

// Set stores entry for input with the given TTL
func (c *RedisCache) Set(ctx context.Context, input []byte, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode format cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(input), value, ttl).Err(); err != nil {
		return fmt.Errorf("save format cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

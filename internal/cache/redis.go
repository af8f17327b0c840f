package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tally:"

// RedisCache implements UsageCache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
// Generation stamps are plain Redis counters bumped with INCR, so
// invalidation stays atomic across nodes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// GetCapUsage returns the cached snapshot and its stamp.
func (c *RedisCache) GetCapUsage(ctx context.Context, paymentMethodID string) ([]domain.CapUsage, uint64, error) {
	data, err := c.client.Get(ctx, c.usageKey(paymentMethodID)).Bytes()
	if err == redis.Nil {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var payload usagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, 0, err
	}
	return payload.Entries, payload.Stamp, nil
}

// SetCapUsage stores a snapshot computed at the given stamp.
func (c *RedisCache) SetCapUsage(ctx context.Context, paymentMethodID string, entries []domain.CapUsage, stamp uint64, ttl time.Duration) error {
	data, err := json.Marshal(usagePayload{Stamp: stamp, Entries: entries})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.usageKey(paymentMethodID), data, ttl).Err()
}

// Generation returns the current stamp for a payment method. A key
// that was never bumped reads as zero.
func (c *RedisCache) Generation(ctx context.Context, paymentMethodID string) (uint64, error) {
	val, err := c.client.Get(ctx, c.genKey(paymentMethodID)).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// BumpGeneration atomically advances the stamp and returns it.
func (c *RedisCache) BumpGeneration(ctx context.Context, paymentMethodID string) (uint64, error) {
	val, err := c.client.Incr(ctx, c.genKey(paymentMethodID)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(val), nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) usageKey(paymentMethodID string) string {
	return keyPrefix + "usage:" + paymentMethodID
}

func (c *RedisCache) genKey(paymentMethodID string) string {
	return keyPrefix + "gen:" + paymentMethodID
}

package domain

import (
	"context"
	"time"
)

// UsageCache is the read-through cache for cap usage, keyed by payment
// method. Entries carry the generation stamp they were computed at;
// a read whose stamp trails the current generation is a miss. Stamps
// are bumped on every transaction write for the method, so stale
// entries can never under- or over-report remaining cap.
type UsageCache interface {
	// GetCapUsage returns the cached entries and the stamp they were
	// computed at. nil entries with nil error means not cached.
	GetCapUsage(ctx context.Context, paymentMethodID string) ([]CapUsage, uint64, error)

	// SetCapUsage stores entries computed at the given stamp.
	SetCapUsage(ctx context.Context, paymentMethodID string, entries []CapUsage, stamp uint64, ttl time.Duration) error

	// Generation returns the current stamp for a payment method.
	Generation(ctx context.Context, paymentMethodID string) (uint64, error)

	// BumpGeneration invalidates all cached usage for a payment method
	// by advancing its stamp, and returns the new stamp.
	BumpGeneration(ctx context.Context, paymentMethodID string) (uint64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}

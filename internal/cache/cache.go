package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.UsageCache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
// Generation stamps always come from Redis so every node sees the
// same invalidation point; L1 snapshots with trailing stamps are
// rejected by the stamp comparison, not by explicit deletes.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// GetCapUsage retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) GetCapUsage(ctx context.Context, paymentMethodID string) ([]domain.CapUsage, uint64, error) {
	// Check L1 first
	entries, stamp, err := c.local.GetCapUsage(ctx, paymentMethodID)
	if err != nil {
		return nil, 0, err
	}
	if entries != nil {
		return entries, stamp, nil
	}

	// Check L2
	entries, stamp, err = c.remote.GetCapUsage(ctx, paymentMethodID)
	if err != nil {
		return nil, 0, err
	}
	if entries != nil {
		// Populate L1 for future reads
		_ = c.local.SetCapUsage(ctx, paymentMethodID, entries, stamp, c.l1TTL)
	}

	return entries, stamp, nil
}

// SetCapUsage writes to both L1 and L2.
func (c *TwoPhaseCache) SetCapUsage(ctx context.Context, paymentMethodID string, entries []domain.CapUsage, stamp uint64, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetCapUsage(ctx, paymentMethodID, entries, stamp, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	return c.remote.SetCapUsage(ctx, paymentMethodID, entries, stamp, ttl)
}

// Generation reads the stamp from L2. L1 is not consulted: a local
// counter could trail another node's writes.
func (c *TwoPhaseCache) Generation(ctx context.Context, paymentMethodID string) (uint64, error) {
	return c.remote.Generation(ctx, paymentMethodID)
}

// BumpGeneration advances the stamp in L2.
func (c *TwoPhaseCache) BumpGeneration(ctx context.Context, paymentMethodID string) (uint64, error) {
	return c.remote.BumpGeneration(ctx, paymentMethodID)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

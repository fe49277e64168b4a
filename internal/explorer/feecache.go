package explorer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
)

// FeeLevelCache fetches and caches the explorer's confirmation-target fee
// estimates, refreshing at most once per config.FeeLevelCacheDuration so a
// burst of CreateTx calls doesn't hammer the explorer.
type FeeLevelCache struct {
	client   *Client
	mu       sync.RWMutex
	levels   map[int]float64
	cachedAt time.Time
}

// NewFeeLevelCache wraps client with a time-bounded cache.
func NewFeeLevelCache(client *Client) *FeeLevelCache {
	return &FeeLevelCache{client: client}
}

// Get returns the sat/vByte estimate for confirming within target blocks,
// refreshing the whole fee-estimate table if the cache is stale.
func (c *FeeLevelCache) Get(ctx context.Context, target int) (float64, error) {
	c.mu.RLock()
	if len(c.levels) > 0 && time.Since(c.cachedAt) < config.FeeLevelCacheDuration {
		rate, ok := c.levels[target]
		c.mu.RUnlock()
		if ok {
			return rate, nil
		}
		return c.closestLevel(target), nil
	}
	c.mu.RUnlock()

	levels, err := c.client.EstimateFees(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh fee levels: %w", err)
	}

	c.mu.Lock()
	c.levels = levels
	c.cachedAt = time.Now()
	c.mu.Unlock()

	slog.Debug("fee levels refreshed", "targets", len(levels))

	if rate, ok := levels[target]; ok {
		return rate, nil
	}
	return c.closestLevel(target), nil
}

// closestLevel falls back to the nearest larger confirmation target present
// in the cache when the exact target wasn't returned by the explorer.
func (c *FeeLevelCache) closestLevel(target int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	best := 0.0
	bestTarget := -1
	for t, rate := range c.levels {
		if t >= target && (bestTarget == -1 || t < bestTarget) {
			bestTarget = t
			best = rate
		}
	}
	if bestTarget == -1 {
		// Nothing at or above target; use the slowest (largest-target) rate
		// available rather than failing the caller outright.
		for t, rate := range c.levels {
			if t > bestTarget {
				bestTarget = t
				best = rate
			}
		}
	}
	return best
}

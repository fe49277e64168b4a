package explorer

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// rateLimiter wraps a token-bucket limiter scoped to a single provider.
type rateLimiter struct {
	limiter *rate.Limiter
	name    string
}

func newRateLimiter(name string, rps int) *rateLimiter {
	return &rateLimiter{
		// Burst(1) spreads requests evenly across the second instead of
		// letting a full second's quota fire at once, which is what tends
		// to trip a provider's own rate limiting even when the average
		// rate is within bounds.
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		name:    name,
	}
}

func (rl *rateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		slog.Warn("explorer rate limiter wait cancelled", "provider", rl.name, "error", err)
		return err
	}
	return nil
}

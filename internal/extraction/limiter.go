package extraction

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum spacing between outbound model calls. One
// instance is shared by every stage of an engine.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing one call per minInterval.
// A non-positive interval disables limiting.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, 1)}
}

// WaitIfNeeded blocks until the next call is allowed or ctx is done
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

package extraction

import (
	"context"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"go.uber.org/zap"
)

// DefaultRetryDelays is the backoff sequence for rate-limited model calls
var DefaultRetryDelays = []time.Duration{3 * time.Second, 5 * time.Second, 8 * time.Second}

// Retrier re-runs an operation while it fails with a retryable error, waiting
// the next configured delay between attempts
type Retrier struct {
	delays []time.Duration
	logger *zap.Logger
}

// NewRetrier creates a retrier. A nil delay list means DefaultRetryDelays.
func NewRetrier(delays []time.Duration, logger *zap.Logger) *Retrier {
	if delays == nil {
		delays = DefaultRetryDelays
	}
	return &Retrier{delays: delays, logger: logger}
}

// Do runs fn at most len(delays)+1 times. Non-retryable errors and the error
// of the final attempt are returned unchanged.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !core.IsRetryable(err) || attempt >= len(r.delays) {
			return err
		}

		delay := r.delays[attempt]
		r.logger.Warn("Rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

package webhook

import (
	"context"
	"fmt"
	"time"
)

// WithRetry runs op up to attempts times with a fixed delay between
// attempts. It returns the number of attempts that ran and, after
// exhaustion, the last error. The delay wait is context-aware so shutdown
// is not held up by a sleeping retry loop.
func WithRetry(ctx context.Context, attempts int, delay time.Duration, op func(ctx context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return attempts, fmt.Errorf("webhook: %d attempts exhausted: %w", attempts, lastErr)
}

package errors

import (
	"context"
	"time"
)

// BackoffConfig configures exponential backoff between retry attempts.
type BackoffConfig struct {
	BaseDelay  time.Duration // delay before the first retry
	Multiplier float64       // growth factor applied per attempt
	MaxDelay   time.Duration // upper bound on any single delay
}

// DelayFor returns the delay preceding the given retry attempt (0-based).
func (c BackoffConfig) DelayFor(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

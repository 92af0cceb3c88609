package antidetect

import (
	"context"
	"math/rand/v2"
	"time"
)

// RandomDuration returns a uniform duration in [min, max] at millisecond
// granularity. If max < min, min is returned.
func RandomDuration(min, max time.Duration) time.Duration {
	lo, hi := min.Milliseconds(), max.Milliseconds()
	if hi <= lo {
		return min
	}
	return time.Duration(rand.Int64N(hi-lo+1)+lo) * time.Millisecond
}

// RandomDelay sleeps for RandomDuration(min, max) or until ctx is done.
func RandomDelay(ctx context.Context, min, max time.Duration) error {
	d := RandomDuration(min, max)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

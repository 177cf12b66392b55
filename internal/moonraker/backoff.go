package moonraker

import (
	"context"
	"time"
)

const (
	minBackoff = time.Second
	maxBackoff = 60 * time.Second
)

// nextBackoff doubles d, clamped to [minBackoff, maxBackoff].
func nextBackoff(d time.Duration) time.Duration {
	if d < minBackoff {
		return minBackoff
	}
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

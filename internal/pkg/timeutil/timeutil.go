package timeutil

import (
	"context"
	"time"
)

func NowUnix() int64 {
	return time.Now().Unix()
}

// Sleep waits for d. It returns false if ctx was cancelled first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

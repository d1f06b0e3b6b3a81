package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowRespectsBurst(t *testing.T) {
	l := New("test", Config{RequestsPerSecond: 0.001, Burst: 2})
	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow())
}

func TestLimiterBackoffBlocksAllow(t *testing.T) {
	base := time.Now()
	l := New("test", Config{})
	l.now = func() time.Time { return base }

	l.Backoff(time.Minute)
	require.False(t, l.Allow())

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.True(t, l.Allow())
}

func TestLimiterBackoffKeepsLongerWindow(t *testing.T) {
	base := time.Now()
	l := New("test", Config{})
	l.now = func() time.Time { return base }

	l.Backoff(time.Hour)
	l.Backoff(time.Second)
	require.Equal(t, base.Add(time.Hour), l.retryAt)
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := New("test", Config{})
	l.Backoff(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *Limiter
	require.NoError(t, l.Wait(context.Background()))
	require.True(t, l.Allow())
}

func TestUnlimitedWait(t *testing.T) {
	l := Unlimited()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

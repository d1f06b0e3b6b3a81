// Package ratelimit provides the token bucket shared by the call sites that
// talk to rate-limited external APIs: embedding, generation and page fetches.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBackoff = 30 * time.Second

type Config struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables limiting.
	RequestsPerSecond float64
	// Burst is the bucket size, at least 1.
	Burst int
}

// Limiter is a token bucket with an additional cool-down window that callers
// open after the remote side reports a rate-limit response.
type Limiter struct {
	mu      sync.Mutex
	name    string
	limiter *rate.Limiter
	retryAt time.Time
	now     func() time.Time
}

func New(name string, cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *Limiter {
	return New("unlimited", Config{})
}

// Wait blocks until a call may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := retryAt.Sub(l.now()); wait > 0 {
		logutil.GetLogger(ctx).Debug("rate limiter cooling down",
			zap.String("limiter", l.name),
			zap.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Backoff opens a cool-down window of d (or a default when d <= 0). A longer
// window already in place is kept.
func (l *Limiter) Backoff(d time.Duration) {
	if l == nil {
		return
	}
	if d <= 0 {
		d = defaultBackoff
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(l.retryAt) {
		l.retryAt = until
	}
}

// Allow reports whether a call may proceed immediately, consuming a token if so.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()
	if l.now().Before(retryAt) {
		return false
	}
	return l.limiter.Allow()
}

func (l *Limiter) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

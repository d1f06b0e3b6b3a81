package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/ratelimit"
)

type dimensionEmbedder struct {
	next IEmbedder
	dim  int
}

// WithDimensionCheck rejects vectors whose length differs from dim.
func WithDimensionCheck(next IEmbedder, dim int) IEmbedder {
	if next == nil || dim <= 0 {
		return next
	}
	return &dimensionEmbedder{next: next, dim: dim}
}

func (e *dimensionEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec, err := e.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if len(vec) != e.dim {
		return nil, &appErr.DimensionMismatchError{Expected: e.dim, Got: len(vec)}
	}
	return vec, nil
}

func (e *dimensionEmbedder) ModelName() string {
	return e.next.ModelName()
}

type limitedEmbedder struct {
	next    IEmbedder
	limiter *ratelimit.Limiter
}

// WithEmbedLimiter takes a token from limiter before every call and opens a
// cool-down window when the provider reports rate limiting.
func WithEmbedLimiter(next IEmbedder, limiter *ratelimit.Limiter) IEmbedder {
	if next == nil || limiter == nil {
		return next
	}
	return &limitedEmbedder{next: next, limiter: limiter}
}

func (e *limitedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vec, err := e.next.Embed(ctx, text, taskType)
	if IsRateLimited(err) {
		e.limiter.Backoff(0)
	}
	return vec, err
}

func (e *limitedEmbedder) ModelName() string {
	return e.next.ModelName()
}

type limitedGenerator struct {
	next    IStreamGenerator
	limiter *ratelimit.Limiter
}

func WithGenerateLimiter(next IStreamGenerator, limiter *ratelimit.Limiter) IStreamGenerator {
	if next == nil || limiter == nil {
		return next
	}
	return &limitedGenerator{next: next, limiter: limiter}
}

func (g *limitedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	res, err := g.next.Generate(ctx, prompt)
	if IsRateLimited(err) {
		g.limiter.Backoff(0)
	}
	return res, err
}

func (g *limitedGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	res, err := g.next.GenerateStream(ctx, prompt, onDelta)
	if IsRateLimited(err) {
		g.limiter.Backoff(0)
	}
	return res, err
}

// timeoutErr turns an expired call deadline into a transient failure.
func timeoutErr(op string, ctx context.Context, err error) error {
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return appErr.Transient(op, fmt.Errorf("%w: %v", appErr.ErrTimeout, err))
	}
	return err
}

type timedEmbedder struct {
	next    IEmbedder
	timeout time.Duration
}

// WithEmbedTimeout bounds every embedding call by d.
func WithEmbedTimeout(next IEmbedder, d time.Duration) IEmbedder {
	if next == nil || d <= 0 {
		return next
	}
	return &timedEmbedder{next: next, timeout: d}
}

func (e *timedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	vec, err := e.next.Embed(ctx, text, taskType)
	return vec, timeoutErr("embed", ctx, err)
}

func (e *timedEmbedder) ModelName() string {
	return e.next.ModelName()
}

type timedGenerator struct {
	next    IStreamGenerator
	timeout time.Duration
}

// WithGenerateTimeout bounds every generation call, streaming included, by d.
func WithGenerateTimeout(next IStreamGenerator, d time.Duration) IStreamGenerator {
	if next == nil || d <= 0 {
		return next
	}
	return &timedGenerator{next: next, timeout: d}
}

func (g *timedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.next.Generate(ctx, prompt)
	return res, timeoutErr("generate", ctx, err)
}

func (g *timedGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.next.GenerateStream(ctx, prompt, onDelta)
	return res, timeoutErr("generate", ctx, err)
}

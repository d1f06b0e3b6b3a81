package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

type timedIndex struct {
	next    Index
	timeout time.Duration
}

// WithTimeout bounds every index call by d. An expired deadline is reported
// as a transient failure wrapping ErrTimeout.
func WithTimeout(next Index, d time.Duration) Index {
	if next == nil || d <= 0 {
		return next
	}
	return &timedIndex{next: next, timeout: d}
}

func (t *timedIndex) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return appErr.Transient("vector "+op, fmt.Errorf("%w: %v", appErr.ErrTimeout, err))
	}
	return err
}

func (t *timedIndex) Upsert(ctx context.Context, records []model.VectorRecord) error {
	return t.call(ctx, "upsert", func(ctx context.Context) error {
		return t.next.Upsert(ctx, records)
	})
}

func (t *timedIndex) Query(ctx context.Context, vector []float32, topK int, filter model.Metadata) ([]model.VectorMatch, error) {
	var out []model.VectorMatch
	err := t.call(ctx, "query", func(ctx context.Context) error {
		var err error
		out, err = t.next.Query(ctx, vector, topK, filter)
		return err
	})
	return out, err
}

func (t *timedIndex) Fetch(ctx context.Context, ids []string) ([]model.VectorRecord, error) {
	var out []model.VectorRecord
	err := t.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		out, err = t.next.Fetch(ctx, ids)
		return err
	})
	return out, err
}

func (t *timedIndex) Delete(ctx context.Context, ids []string) error {
	return t.call(ctx, "delete", func(ctx context.Context) error {
		return t.next.Delete(ctx, ids)
	})
}

func (t *timedIndex) DeleteAll(ctx context.Context) error {
	return t.call(ctx, "delete_all", t.next.DeleteAll)
}

func (t *timedIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	var out model.IndexStats
	err := t.call(ctx, "stats", func(ctx context.Context) error {
		var err error
		out, err = t.next.Stats(ctx)
		return err
	})
	return out, err
}

func (t *timedIndex) Close() error {
	return t.next.Close()
}

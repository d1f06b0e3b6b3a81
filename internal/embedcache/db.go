package embedcache

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/ai"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
)

// Store is the persistent side of the cache, see repo.EmbeddingCacheRepo.
type Store interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

// DBEmbedder persists document embeddings so that re-chunking unchanged text
// after a reset does not call the provider again. Store failures never fail
// the embedding itself.
type DBEmbedder struct {
	Counters
	next  ai.IEmbedder
	store Store
}

func WithDB(e ai.IEmbedder, store Store) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return NewDBEmbedder(e, store)
}

func NewDBEmbedder(e ai.IEmbedder, store Store) *DBEmbedder {
	return &DBEmbedder{next: e, store: store}
}

func (d *DBEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	key := newCacheKey(d.next.ModelName(), taskType, text)
	values, ok, err := d.store.Get(ctx, key.model, key.taskType, key.contentHash)
	if err != nil {
		logger.Warn("embedding cache lookup failed", zap.Error(err))
	}
	if ok {
		d.hits.Add(1)
		logger.Debug("embedding cache hit (db)", zap.String("task_type", taskType))
		return values, nil
	}
	d.misses.Add(1)
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := d.store.Save(ctx, &model.EmbeddingCache{
		ModelName:   key.model,
		TaskType:    key.taskType,
		ContentHash: key.contentHash,
		Embedding:   res,
		Ctime:       timeutil.NowUnix(),
	}); err != nil {
		logger.Warn("failed to cache embedding", zap.Error(err))
	}
	return res, nil
}

func (d *DBEmbedder) ModelName() string {
	return d.next.ModelName()
}

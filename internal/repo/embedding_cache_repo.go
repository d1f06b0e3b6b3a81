package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/dbutil"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
)

// touchAfter limits how often a cache hit rewrites its timestamp.
const touchAfter = int64(24 * 3600)

// EmbeddingCacheRepo persists chunk embeddings keyed by model, task type and
// content hash. ctime records the last use, so DeleteBefore evicts entries
// that no re-ingest has asked for recently.
type EmbeddingCacheRepo struct {
	db *sql.DB
}

func NewEmbeddingCacheRepo(db *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

func cacheWhere(modelName, taskType, contentHash string) map[string]interface{} {
	return map[string]interface{}{
		"model_name":   modelName,
		"task_type":    taskType,
		"content_hash": contentHash,
	}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	where := cacheWhere(modelName, taskType, contentHash)
	sqlStr, args, err := builder.BuildSelect("embedding_cache", where, []string{"embedding", "ctime"})
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var (
		embedding pgvector.Vector
		ctime     int64
	)
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&embedding, &ctime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if now := timeutil.NowUnix(); now-ctime > touchAfter {
		r.touch(ctx, where, now)
	}
	return embedding.Slice(), true, nil
}

// touch is best effort; a lost update only makes the entry expire sooner.
func (r *EmbeddingCacheRepo) touch(ctx context.Context, where map[string]interface{}, now int64) {
	sqlStr, args, err := builder.BuildUpdate("embedding_cache", where, map[string]interface{}{"ctime": now})
	if err != nil {
		return
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, _ = r.db.ExecContext(ctx, sqlStr, args...)
}

// Save upserts one entry. gendry has no postgres upsert, so the statement is
// written by hand.
func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	const query = `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name, task_type, content_hash)
		DO UPDATE SET embedding = EXCLUDED.embedding, ctime = EXCLUDED.ctime
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ModelName, item.TaskType, item.ContentHash, pgvector.NewVector(item.Embedding), item.Ctime)
	return err
}

// DeleteBefore drops entries last used before cutoff and reports how many went.
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("embedding_cache", map[string]interface{}{"ctime <": cutoff})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

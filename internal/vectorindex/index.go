package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

// Index stores one vector per embedded chunk and answers cosine
// similarity queries. Scores are in [-1, 1], higher is closer.
type Index interface {
	Upsert(ctx context.Context, records []model.VectorRecord) error
	// Query ranks stored vectors against vector. A non-empty filter keeps
	// only records whose metadata carries every key with the same value.
	Query(ctx context.Context, vector []float32, topK int, filter model.Metadata) ([]model.VectorMatch, error)
	// Fetch returns the stored records among ids; missing ids are skipped.
	Fetch(ctx context.Context, ids []string) ([]model.VectorRecord, error)
	Delete(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error
	Stats(ctx context.Context) (model.IndexStats, error)
	Close() error
}

type Args struct {
	Name      string
	Dimension int
	DB        *sql.DB
	Data      interface{}
}

type Factory func(ctx context.Context, args Args) (Index, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// New opens the index type named by cfg. db is only used by backends that
// live in Postgres.
func New(ctx context.Context, cfg config.VectorIndexConfig, db *sql.DB, dim int) (Index, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_index.type is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector index type: %s", cfg.Type)
	}
	return factory(ctx, Args{Name: cfg.Name, Dimension: dim, DB: db, Data: cfg.Data})
}

var idNamespace = uuid.MustParse("5c2f6d0e-8b1a-4f3e-9d2c-7a4b1e6f0c93")

// VectorID derives the stable vector id for a chunk, so re-embedding the
// same chunk overwrites its previous vector.
func VectorID(chunkID string) string {
	return uuid.NewSHA1(idNamespace, []byte(chunkID)).String()
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode index config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode index config: %w", err)
	}
	return nil
}

func checkRecords(records []model.VectorRecord, dim int) error {
	for _, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			return appErr.Invalid("vector id", "empty")
		}
		if len(rec.Values) != dim {
			return &appErr.DimensionMismatchError{Expected: dim, Got: len(rec.Values)}
		}
	}
	return nil
}

func checkQuery(vector []float32, topK int, dim int) error {
	if len(vector) != dim {
		return &appErr.DimensionMismatchError{Expected: dim, Got: len(vector)}
	}
	if topK <= 0 {
		return appErr.Invalid("top_k", "must be positive")
	}
	return nil
}

func matchesFilter(meta model.Metadata, filter model.Metadata) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

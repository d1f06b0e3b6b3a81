package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
)

const badgerKeyPrefix = "vec/"

type badgerConfig struct {
	Dir      string `json:"dir"`
	InMemory bool   `json:"in_memory"`
}

// badgerIndex is an embedded store for single-node deployments. Queries
// scan every vector under the prefix.
type badgerIndex struct {
	db  *badger.DB
	dim int
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (b *badgerLogger) Errorf(msg string, items ...interface{})   { b.l.Errorf(msg, items...) }
func (b *badgerLogger) Warningf(msg string, items ...interface{}) { b.l.Warnf(msg, items...) }
func (b *badgerLogger) Infof(msg string, items ...interface{})    { b.l.Debugf(msg, items...) }
func (b *badgerLogger) Debugf(msg string, items ...interface{})   { b.l.Debugf(msg, items...) }

func init() {
	Register("badger", createBadgerIndex)
}

func createBadgerIndex(ctx context.Context, args Args) (Index, error) {
	cfg := &badgerConfig{}
	if err := decodeConfig(args.Data, cfg); err != nil {
		return nil, err
	}
	return OpenBadger(ctx, cfg.Dir, cfg.InMemory, args.Dimension)
}

// OpenBadger opens (or creates) a badger index in dir, or purely in memory.
func OpenBadger(ctx context.Context, dir string, inMemory bool, dim int) (Index, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if dir == "" {
			return nil, fmt.Errorf("badger index dir is required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{l: logutil.GetLogger(ctx).With(zap.String("component", "badger")).Sugar()}
	opts.Compression = options.None
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerIndex{db: db, dim: dim}, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func (b *badgerIndex) Upsert(ctx context.Context, records []model.VectorRecord) error {
	if err := checkRecords(records, b.dim); err != nil {
		return err
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := wb.Set(badgerKey(rec.ID), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *badgerIndex) scan(ctx context.Context, withValues bool, fn func(rec model.VectorRecord) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValues
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if !withValues {
				if err := fn(model.VectorRecord{ID: string(item.Key()[len(badgerKeyPrefix):])}); err != nil {
					return err
				}
				continue
			}
			var rec model.VectorRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerIndex) Query(ctx context.Context, vector []float32, topK int, filter model.Metadata) ([]model.VectorMatch, error) {
	if err := checkQuery(vector, topK, b.dim); err != nil {
		return nil, err
	}
	var matches []model.VectorMatch
	err := b.scan(ctx, true, func(rec model.VectorRecord) error {
		if len(rec.Values) != b.dim || !matchesFilter(rec.Metadata, filter) {
			return nil
		}
		matches = append(matches, model.VectorMatch{
			ID:       rec.ID,
			Score:    cosine(vector, rec.Values),
			Metadata: rec.Metadata,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return topMatches(matches, topK), nil
}

func (b *badgerIndex) Fetch(ctx context.Context, ids []string) ([]model.VectorRecord, error) {
	out := make([]model.VectorRecord, 0, len(ids))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(badgerKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var rec model.VectorRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *badgerIndex) Delete(ctx context.Context, ids []string) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete(badgerKey(id)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *badgerIndex) DeleteAll(ctx context.Context) error {
	return b.db.DropPrefix([]byte(badgerKeyPrefix))
}

func (b *badgerIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	var count int64
	err := b.scan(ctx, false, func(model.VectorRecord) error {
		count++
		return nil
	})
	if err != nil {
		return model.IndexStats{}, err
	}
	return model.IndexStats{Count: count, Dimension: b.dim}, nil
}

func (b *badgerIndex) Close() error {
	return b.db.Close()
}

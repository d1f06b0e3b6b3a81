package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
)

// memoryIndex keeps every vector in a map and scans all of them per query.
type memoryIndex struct {
	mu      sync.RWMutex
	dim     int
	records map[string]model.VectorRecord
}

func init() {
	Register("memory", func(ctx context.Context, args Args) (Index, error) {
		return NewMemory(args.Dimension), nil
	})
}

func NewMemory(dim int) Index {
	return &memoryIndex{dim: dim, records: map[string]model.VectorRecord{}}
}

func (m *memoryIndex) Upsert(ctx context.Context, records []model.VectorRecord) error {
	if err := checkRecords(records, m.dim); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[rec.ID] = model.VectorRecord{
			ID:       rec.ID,
			Values:   append([]float32(nil), rec.Values...),
			Metadata: rec.Metadata.Clone(),
		}
	}
	return nil
}

func (m *memoryIndex) Query(ctx context.Context, vector []float32, topK int, filter model.Metadata) ([]model.VectorMatch, error) {
	if err := checkQuery(vector, topK, m.dim); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matches := make([]model.VectorMatch, 0, len(m.records))
	for _, rec := range m.records {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		matches = append(matches, model.VectorMatch{
			ID:       rec.ID,
			Score:    cosine(vector, rec.Values),
			Metadata: rec.Metadata.Clone(),
		})
	}
	m.mu.RUnlock()
	return topMatches(matches, topK), nil
}

func (m *memoryIndex) Fetch(ctx context.Context, ids []string) ([]model.VectorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.VectorRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			out = append(out, model.VectorRecord{
				ID:       rec.ID,
				Values:   append([]float32(nil), rec.Values...),
				Metadata: rec.Metadata.Clone(),
			})
		}
	}
	return out, nil
}

func (m *memoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *memoryIndex) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	m.records = map[string]model.VectorRecord{}
	m.mu.Unlock()
	return nil
}

func (m *memoryIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.IndexStats{Count: int64(len(m.records)), Dimension: m.dim}, nil
}

func (m *memoryIndex) Close() error {
	return nil
}

// topMatches orders by score descending, ties by id, and keeps topK.
func topMatches(matches []model.VectorMatch, topK int) []model.VectorMatch {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

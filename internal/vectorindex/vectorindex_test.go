package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

func sampleRecords() []model.VectorRecord {
	return []model.VectorRecord{
		{ID: VectorID("c1"), Values: []float32{1, 0, 0}, Metadata: model.Metadata{model.MetaChunkID: "c1"}},
		{ID: VectorID("c2"), Values: []float32{0.9, 0.1, 0}, Metadata: model.Metadata{model.MetaChunkID: "c2"}},
		{ID: VectorID("c3"), Values: []float32{0, 0, 1}, Metadata: model.Metadata{model.MetaChunkID: "c3"}},
	}
}

func exerciseIndex(t *testing.T, idx Index) {
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, sampleRecords()))

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "c1", matches[0].Metadata[model.MetaChunkID])
	require.Equal(t, "c2", matches[1].Metadata[model.MetaChunkID])
	require.InDelta(t, 1.0, matches[0].Score, 1e-5)
	require.GreaterOrEqual(t, matches[0].Score, matches[1].Score)

	matches, err = idx.Query(ctx, []float32{1, 0, 0}, 5, model.Metadata{model.MetaChunkID: "c3"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, VectorID("c3"), matches[0].ID)

	// upsert with the same id overwrites
	require.NoError(t, idx.Upsert(ctx, []model.VectorRecord{
		{ID: VectorID("c3"), Values: []float32{1, 0, 0}, Metadata: model.Metadata{model.MetaChunkID: "c3"}},
	}))
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Count)
	require.Equal(t, 3, stats.Dimension)

	got, err := idx.Fetch(ctx, []string{VectorID("c1"), VectorID("missing")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, VectorID("c1"), got[0].ID)

	require.NoError(t, idx.Delete(ctx, []string{VectorID("c1")}))
	got, err = idx.Fetch(ctx, []string{VectorID("c1")})
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, idx.DeleteAll(ctx))
	stats, err = idx.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Count)
}

func TestMemoryIndex(t *testing.T) {
	idx := NewMemory(3)
	defer func() { _ = idx.Close() }()
	exerciseIndex(t, idx)
}

func TestMemoryFetchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(3)
	require.NoError(t, idx.Upsert(ctx, sampleRecords()))

	got, err := idx.Fetch(ctx, []string{VectorID("c1")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].Values[0] = 42
	got[0].Metadata[model.MetaChunkID] = "tampered"

	again, err := idx.Fetch(ctx, []string{VectorID("c1")})
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0, 0}, again[0].Values)
	require.Equal(t, "c1", again[0].Metadata[model.MetaChunkID])
}

func TestBadgerIndexInMemory(t *testing.T) {
	idx, err := OpenBadger(context.Background(), "", true, 3)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	exerciseIndex(t, idx)
}

func TestBadgerIndexOnDisk(t *testing.T) {
	dir := t.TempDir()
	idx, err := New(context.Background(), config.VectorIndexConfig{
		Type: "badger",
		Data: map[string]interface{}{"dir": dir},
	}, nil, 3)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(context.Background(), sampleRecords()))
	require.NoError(t, idx.Close())

	idx, err = OpenBadger(context.Background(), dir, false, 3)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Count)
}

func TestIndexRejectsWrongDimension(t *testing.T) {
	idx := NewMemory(3)
	err := idx.Upsert(context.Background(), []model.VectorRecord{{ID: "x", Values: []float32{1}}})
	require.True(t, appErr.IsDimensionMismatch(err))
	_, err = idx.Query(context.Background(), []float32{1, 2}, 1, nil)
	require.True(t, appErr.IsDimensionMismatch(err))
	_, err = idx.Query(context.Background(), []float32{1, 2, 3}, 0, nil)
	require.True(t, appErr.IsInvalid(err))
}

func TestVectorIDIsStable(t *testing.T) {
	require.Equal(t, VectorID("chunk-1"), VectorID("chunk-1"))
	require.NotEqual(t, VectorID("chunk-1"), VectorID("chunk-2"))
	_, err := uuid.Parse(VectorID("chunk-1"))
	require.NoError(t, err)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(context.Background(), config.VectorIndexConfig{Type: "nope"}, nil, 3)
	require.Error(t, err)
	_, err = New(context.Background(), config.VectorIndexConfig{Type: "memory"}, nil, 0)
	require.Error(t, err)
	_, err = New(context.Background(), config.VectorIndexConfig{Type: "pgvector"}, nil, 3)
	require.Error(t, err)
}

// fakeQdrant implements the handful of REST calls the index issues.
type fakeQdrant struct {
	mu     sync.Mutex
	exists bool
	points map[string]qdrantPoint
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/collections/docs")
	write := func(v interface{}) { _ = json.NewEncoder(w).Encode(v) }
	switch {
	case path == "" && r.Method == http.MethodGet:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		write(map[string]interface{}{"result": map[string]interface{}{
			"points_count": len(f.points),
			"config":       map[string]interface{}{"params": map[string]interface{}{"vectors": map[string]interface{}{"size": 3}}},
		}})
	case path == "" && r.Method == http.MethodPut:
		f.exists = true
		write(map[string]interface{}{"result": true})
	case path == "" && r.Method == http.MethodDelete:
		f.exists = false
		f.points = map[string]qdrantPoint{}
		write(map[string]interface{}{"result": true})
	case path == "/points" && r.Method == http.MethodPut:
		var req struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, p := range req.Points {
			f.points[p.ID] = p
		}
		write(map[string]interface{}{"result": map[string]string{"status": "completed"}})
	case path == "/points/search":
		var req struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
			Filter struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		want := model.Metadata{}
		for _, m := range req.Filter.Must {
			want[m.Key] = m.Match.Value
		}
		var res []model.VectorMatch
		for _, p := range f.points {
			if !matchesFilter(p.Payload, want) {
				continue
			}
			res = append(res, model.VectorMatch{ID: p.ID, Score: cosine(req.Vector, p.Vector), Metadata: p.Payload})
		}
		res = topMatches(res, req.Limit)
		out := make([]qdrantPoint, 0, len(res))
		for _, m := range res {
			out = append(out, qdrantPoint{ID: m.ID, Score: m.Score, Payload: m.Metadata})
		}
		write(map[string]interface{}{"result": out})
	case path == "/points" && r.Method == http.MethodPost:
		var req struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var out []qdrantPoint
		for _, id := range req.IDs {
			if p, ok := f.points[id]; ok {
				out = append(out, p)
			}
		}
		write(map[string]interface{}{"result": out})
	case path == "/points/delete":
		var req struct {
			Points []string `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, id := range req.Points {
			delete(f.points, id)
		}
		write(map[string]interface{}{"result": map[string]string{"status": "completed"}})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestQdrantIndex(t *testing.T) {
	fake := &fakeQdrant{points: map[string]qdrantPoint{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	idx, err := New(context.Background(), config.VectorIndexConfig{
		Type: "qdrant",
		Name: "docs",
		Data: map[string]interface{}{"url": srv.URL},
	}, nil, 3)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	require.True(t, fake.exists)
	exerciseIndex(t, idx)

	err = idx.Upsert(context.Background(), []model.VectorRecord{{ID: "not-a-uuid", Values: []float32{1, 0, 0}}})
	require.True(t, appErr.IsInvalid(err))
}

func TestQdrantServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := New(context.Background(), config.VectorIndexConfig{
		Type: "qdrant",
		Name: "docs",
		Data: map[string]interface{}{"url": srv.URL},
	}, nil, 3)
	require.True(t, appErr.IsTransient(err))
}

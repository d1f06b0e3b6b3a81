package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/segmenter"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/vectorindex"
)

const testDim = 32

type indexerFixture struct {
	docs     *memDocs
	chunks   *memChunks
	embedder *hashEmbedder
	index    vectorindex.Index
	svc      *IndexerService
}

func newIndexerFixture(t *testing.T, opts IndexerOptions) *indexerFixture {
	t.Helper()
	docs := &memDocs{}
	chunks := newMemChunks(docs)
	seg, err := segmenter.New(segmenter.DefaultChunkSize, segmenter.DefaultOverlap)
	require.NoError(t, err)
	embedder := &hashEmbedder{dim: testDim}
	index := vectorindex.NewMemory(testDim)
	svc, err := NewIndexerService(docs, chunks, seg, embedder, index, opts)
	require.NoError(t, err)
	t.Cleanup(svc.Release)
	return &indexerFixture{docs: docs, chunks: chunks, embedder: embedder, index: index, svc: svc}
}

func (f *indexerFixture) addDocument(t *testing.T, id, text string) {
	t.Helper()
	require.NoError(t, f.docs.Create(context.Background(), &model.Document{
		ID:             id,
		URL:            "https://docs.stripe.com/" + id,
		Title:          "Doc " + id,
		CleanedContent: text,
		Status:         model.DocumentStatusPending,
	}))
}

func TestIngestDocumentSegmentsAndMarksProcessed(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 5})
	ctx := context.Background()
	f.addDocument(t, "doc1", strings.Repeat("a", 2300))

	res, err := f.svc.IngestDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, 3, res.Chunks)
	require.False(t, res.Skipped)

	doc, err := f.docs.GetByID(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusProcessed, doc.Status)

	pending, err := f.chunks.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, c := range pending {
		require.Equal(t, fmt.Sprintf("doc1-%d", i), c.ID)
		require.Equal(t, i, c.Index)
		require.Equal(t, "Doc doc1", c.Metadata[model.MetaTitle])
	}
	require.Equal(t, 1000, pending[0].Size)
	require.Equal(t, 700, pending[2].Size)

	again, err := f.svc.IngestDocument(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, again.Skipped)
}

func TestChunkPendingCoversAllDocuments(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 5})
	f.addDocument(t, "a", "Payments are captured automatically.")
	f.addDocument(t, "b", "Refunds take five to ten days.")

	res, err := f.svc.ChunkPending(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.Successful)
	require.Empty(t, res.Failed)
}

func TestEmbedPendingConcurrentBatches(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 5, Concurrent: true})
	ctx := context.Background()
	var chunks []model.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, model.Chunk{
			ID:              chunkID("doc", i),
			DocumentID:      "doc",
			Text:            fmt.Sprintf("chunk number %d about webhooks", i),
			Index:           i,
			EmbeddingStatus: model.EmbeddingStatusPending,
		})
	}
	f.addDocument(t, "doc", "unused")
	require.NoError(t, f.chunks.ReplaceForDocument(ctx, "doc", chunks))

	res, err := f.svc.EmbedPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 10, res.Successful)
	require.Empty(t, res.Failed)

	counts, err := f.chunks.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), counts[string(model.EmbeddingStatusEmbedded)])

	ids := make([]string, 0, 10)
	for _, c := range chunks {
		ids = append(ids, vectorindex.VectorID(c.ID))
		require.Equal(t, vectorindex.VectorID(c.ID), f.chunks.get(c.ID).VectorID)
	}
	records, err := f.index.Fetch(ctx, ids)
	require.NoError(t, err)
	require.Len(t, records, 10)
	for _, rec := range records {
		require.Equal(t, "doc", rec.Metadata[model.MetaDocumentID])
		require.NotEmpty(t, rec.Metadata[model.MetaChunkID])
	}
}

// waveEmbedder holds every call until size calls are in flight together, and
// records the peak concurrency of each wave. A wave starts whenever the
// in-flight count climbs back from zero.
type waveEmbedder struct {
	*hashEmbedder
	size int

	mu       sync.Mutex
	inflight int
	started  int
	full     chan struct{}
	waves    []int
}

func (w *waveEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	w.mu.Lock()
	if w.inflight == 0 {
		w.waves = append(w.waves, 0)
		w.full = make(chan struct{})
		w.started = 0
	}
	w.inflight++
	w.started++
	if last := len(w.waves) - 1; w.inflight > w.waves[last] {
		w.waves[last] = w.inflight
	}
	full := w.full
	if w.started == w.size {
		close(full)
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.inflight--
		w.mu.Unlock()
	}()

	select {
	case <-full:
	case <-time.After(2 * time.Second):
	}
	return w.hashEmbedder.Embed(ctx, text, taskType)
}

func TestEmbedPendingConcurrentRunsSubBatchWaves(t *testing.T) {
	ctx := context.Background()
	docs := &memDocs{}
	chunks := newMemChunks(docs)
	seg, err := segmenter.New(segmenter.DefaultChunkSize, segmenter.DefaultOverlap)
	require.NoError(t, err)
	embedder := &waveEmbedder{hashEmbedder: &hashEmbedder{dim: testDim}, size: 5}
	svc, err := NewIndexerService(docs, chunks, seg, embedder, vectorindex.NewMemory(testDim),
		IndexerOptions{BatchSize: 5, Concurrent: true})
	require.NoError(t, err)
	t.Cleanup(svc.Release)

	require.NoError(t, docs.Create(ctx, &model.Document{ID: "doc", URL: "https://docs.stripe.com/doc", Status: model.DocumentStatusPending}))
	var pending []model.Chunk
	for i := 0; i < 10; i++ {
		pending = append(pending, model.Chunk{
			ID:              chunkID("doc", i),
			DocumentID:      "doc",
			Text:            fmt.Sprintf("chunk %d on refunds", i),
			Index:           i,
			EmbeddingStatus: model.EmbeddingStatusPending,
		})
	}
	require.NoError(t, chunks.ReplaceForDocument(ctx, "doc", pending))

	res, err := svc.EmbedPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 10, res.Successful)

	embedder.mu.Lock()
	defer embedder.mu.Unlock()
	require.Equal(t, []int{5, 5}, embedder.waves)
	require.Equal(t, 0, embedder.inflight)
}

func TestEmbedPendingFailureMarksFailedAndContinues(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 2})
	ctx := context.Background()
	f.addDocument(t, "doc", "unused")
	require.NoError(t, f.chunks.ReplaceForDocument(ctx, "doc", []model.Chunk{
		{ID: "doc-0", DocumentID: "doc", Text: "first", EmbeddingStatus: model.EmbeddingStatusPending},
		{ID: "doc-1", DocumentID: "doc", Text: "broken", EmbeddingStatus: model.EmbeddingStatusPending},
		{ID: "doc-2", DocumentID: "doc", Text: "third", EmbeddingStatus: model.EmbeddingStatusPending},
	}))
	f.embedder.fail = map[string]bool{"broken": true}

	res, err := f.svc.EmbedPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.Successful)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "doc-1", res.Failed[0].ID)

	failed := f.chunks.get("doc-1")
	require.Equal(t, model.EmbeddingStatusFailed, failed.EmbeddingStatus)
	require.Contains(t, failed.ErrorMessage, "503")
	require.Equal(t, model.EmbeddingStatusEmbedded, f.chunks.get("doc-2").EmbeddingStatus)

	// failed chunks are not picked up again until reset
	res, err = f.svc.EmbedPending(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, res.Successful)

	f.embedder.fail = nil
	n, _, err := f.svc.ResetFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	res, err = f.svc.EmbedPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Successful)
}

func TestEmbedDropsVectorWhenStatusWriteFails(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 1})
	ctx := context.Background()
	f.addDocument(t, "doc", "unused")
	require.NoError(t, f.chunks.ReplaceForDocument(ctx, "doc", []model.Chunk{
		{ID: "doc-0", DocumentID: "doc", Text: "orphan", EmbeddingStatus: model.EmbeddingStatusPending},
	}))
	f.chunks.failMark["doc-0"] = true

	res, err := f.svc.EmbedPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	stats, err := f.index.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Count)
}

func TestResetIndex(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 5})
	ctx := context.Background()
	f.addDocument(t, "doc", "Connect accounts can receive payouts.")
	_, err := f.svc.ChunkPending(ctx, 0)
	require.NoError(t, err)
	_, err = f.svc.EmbedPending(ctx, 0)
	require.NoError(t, err)

	n, err := f.svc.ResetIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	stats, err := f.index.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Count)
	pending, err := f.chunks.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestIngestDocumentMissing(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 5})
	_, err := f.svc.IngestDocument(context.Background(), "nope")
	require.True(t, errors.Is(err, appErr.ErrNotFound))
}

func TestPipelineFull(t *testing.T) {
	f := newIndexerFixture(t, IndexerOptions{BatchSize: 2})
	pages := &stubFetcher{pages: map[string]string{
		"https://docs.stripe.com/payments": "<html><body><article><h1>Payments</h1><p>Accept payments online.</p></article></body></html>",
		"https://docs.stripe.com/refunds":  "<html><body><article><h1>Refunds</h1><p>Refund a charge.</p></article></body></html>",
	}}
	ingest := NewIngestService(f.docs, pages, nil, 0)
	sources := []config.SourceConfig{
		{URL: "https://docs.stripe.com/payments"},
		{URL: "https://docs.stripe.com/refunds"},
		{URL: "https://docs.stripe.com/missing"},
	}
	pipeline := NewPipelineService(ingest, f.svc, sources, 1)

	report, err := pipeline.Full(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Scrape.Successful)
	require.Len(t, report.Scrape.Failed, 1)
	require.Equal(t, 2, report.Chunk.Successful)
	require.Equal(t, 2, report.Embed.Successful)
	require.Equal(t, 1, report.Failed())

	stats, err := NewStatsService(f.docs, f.chunks, &memConvs{}, &memMessages{}, f.index).Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Documents[string(model.DocumentStatusProcessed)])
	require.Equal(t, int64(2), stats.Index.Count)
	require.Equal(t, testDim, stats.Index.Dimension)
}

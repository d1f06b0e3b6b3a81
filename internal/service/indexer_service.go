package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/ai"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/segmenter"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/vectorindex"
)

type IndexerOptions struct {
	// BatchSize is the number of chunks per sub-batch.
	BatchSize  int
	ItemDelay  time.Duration
	BatchDelay time.Duration
	// Concurrent fires the embeddings of one sub-batch together instead of
	// one after another.
	Concurrent bool
}

// IndexerService segments documents into chunks and embeds pending chunks
// into the vector index. It never retries on its own: failed items stay
// failed until ResetFailed is called.
type IndexerService struct {
	docs      documentStore
	chunks    chunkStore
	segmenter *segmenter.Segmenter
	embedder  ai.IEmbedder
	index     vectorindex.Index
	opts      IndexerOptions
	pool      *ants.Pool
}

func NewIndexerService(docs documentStore, chunks chunkStore, seg *segmenter.Segmenter, embedder ai.IEmbedder, index vectorindex.Index, opts IndexerOptions) (*IndexerService, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	pool, err := ants.NewPool(opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("create embed pool: %w", err)
	}
	return &IndexerService{
		docs:      docs,
		chunks:    chunks,
		segmenter: seg,
		embedder:  embedder,
		index:     index,
		opts:      opts,
		pool:      pool,
	}, nil
}

func (s *IndexerService) Release() {
	s.pool.Release()
}

// IngestDocument segments one document and stores its chunks. Documents
// already processed are skipped.
func (s *IndexerService) IngestDocument(ctx context.Context, documentID string) (*model.IngestResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", documentID))
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.DocumentStatusProcessed {
		return &model.IngestResult{DocumentID: doc.ID, Skipped: true}, nil
	}
	texts := s.segmenter.Segment(doc.CleanedContent)
	now := timeutil.NowUnix()
	chunks := make([]model.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, model.Chunk{
			ID:              chunkID(doc.ID, i),
			DocumentID:      doc.ID,
			Text:            text,
			Index:           i,
			Size:            len([]rune(text)),
			EmbeddingStatus: model.EmbeddingStatusPending,
			Metadata: model.Metadata{
				model.MetaTitle: doc.Title,
				model.MetaURL:   doc.URL,
			},
			Ctime: now,
			Mtime: now,
		})
	}
	if err := s.chunks.ReplaceForDocument(ctx, doc.ID, chunks); err != nil {
		logger.Error("store chunks failed", zap.Error(err))
		if markErr := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusFailed, err.Error()); markErr != nil {
			logger.Error("mark document failed", zap.Error(markErr))
		}
		return nil, err
	}
	logger.Info("document chunked", zap.Int("chunks", len(chunks)))
	return &model.IngestResult{DocumentID: doc.ID, Chunks: len(chunks)}, nil
}

// ChunkPending segments up to limit pending documents, oldest first.
func (s *IndexerService) ChunkPending(ctx context.Context, limit uint) (model.BatchResult, error) {
	docs, err := s.docs.ListByStatus(ctx, model.DocumentStatusPending, limit)
	if err != nil {
		return model.BatchResult{}, err
	}
	logger := logutil.GetLogger(ctx)
	logger.Info("chunking started", zap.Int("documents", len(docs)))
	var res model.BatchResult
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		out, err := s.IngestDocument(ctx, doc.ID)
		switch {
		case err != nil:
			res.Fail(doc.ID, err)
		case out.Skipped:
			res.Skipped++
		default:
			res.Successful++
		}
	}
	logger.Info("chunking finished", zap.Int("successful", res.Successful), zap.Int("failed", len(res.Failed)))
	return res, nil
}

// EmbedPending embeds up to limit pending chunks, oldest first, in
// sub-batches of BatchSize. A failing chunk is marked failed and the batch
// moves on.
func (s *IndexerService) EmbedPending(ctx context.Context, limit uint) (model.BatchResult, error) {
	pending, err := s.chunks.ListPending(ctx, limit)
	if err != nil {
		return model.BatchResult{}, err
	}
	logger := logutil.GetLogger(ctx)
	logger.Info("embedding started", zap.Int("chunks", len(pending)), zap.Int("batch_size", s.opts.BatchSize))
	var res model.BatchResult
	for start := 0; start < len(pending); start += s.opts.BatchSize {
		if ctx.Err() != nil {
			logger.Warn("embedding cancelled", zap.Int("remaining", len(pending)-start))
			break
		}
		if start > 0 && !timeutil.Sleep(ctx, s.opts.BatchDelay) {
			break
		}
		end := start + s.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		if s.opts.Concurrent {
			res.Merge(s.embedConcurrent(ctx, batch))
		} else {
			res.Merge(s.embedSequential(ctx, batch))
		}
	}
	logger.Info("embedding finished", zap.Int("successful", res.Successful), zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (s *IndexerService) embedSequential(ctx context.Context, batch []model.Chunk) model.BatchResult {
	var res model.BatchResult
	for i := range batch {
		if i > 0 && !timeutil.Sleep(ctx, s.opts.ItemDelay) {
			break
		}
		if err := s.embedChunk(ctx, &batch[i]); err != nil {
			res.Fail(batch[i].ID, err)
			continue
		}
		res.Successful++
	}
	return res
}

func (s *IndexerService) embedConcurrent(ctx context.Context, batch []model.Chunk) model.BatchResult {
	var (
		res model.BatchResult
		mu  sync.Mutex
		wg  sync.WaitGroup
	)
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Fail(id, err)
			return
		}
		res.Successful++
	}
	for i := range batch {
		chunk := &batch[i]
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			record(chunk.ID, s.embedChunk(ctx, chunk))
		}); err != nil {
			wg.Done()
			record(chunk.ID, err)
		}
	}
	wg.Wait()
	return res
}

// embedChunk upserts the vector before flagging the chunk, so a crash in
// between leaves a pending chunk whose vector is simply overwritten later.
func (s *IndexerService) embedChunk(ctx context.Context, chunk *model.Chunk) error {
	logger := logutil.GetLogger(ctx).With(zap.String("chunk_id", chunk.ID))
	err := s.embedAndUpsert(ctx, chunk)
	if err == nil {
		return nil
	}
	logger.Error("embed chunk failed", zap.Error(err))
	if markErr := s.chunks.MarkFailed(ctx, chunk.ID, err.Error()); markErr != nil {
		logger.Error("mark chunk failed", zap.Error(markErr))
	}
	return err
}

func (s *IndexerService) embedAndUpsert(ctx context.Context, chunk *model.Chunk) error {
	vec, err := s.embedder.Embed(ctx, chunk.Text, ai.TaskRetrievalDocument)
	if err != nil {
		return err
	}
	vectorID := vectorindex.VectorID(chunk.ID)
	meta := chunk.Metadata.Clone()
	if meta == nil {
		meta = model.Metadata{}
	}
	meta[model.MetaChunkID] = chunk.ID
	meta[model.MetaDocumentID] = chunk.DocumentID
	meta[model.MetaChunkIndex] = strconv.Itoa(chunk.Index)
	if err := s.index.Upsert(ctx, []model.VectorRecord{{ID: vectorID, Values: vec, Metadata: meta}}); err != nil {
		return err
	}
	if err := s.chunks.MarkEmbedded(ctx, chunk.ID, vectorID); err != nil {
		if delErr := s.index.Delete(ctx, []string{vectorID}); delErr != nil {
			logutil.GetLogger(ctx).Warn("drop orphan vector failed", zap.String("vector_id", vectorID), zap.Error(delErr))
		}
		return err
	}
	return nil
}

// ResetFailed moves failed chunks and documents back to pending.
func (s *IndexerService) ResetFailed(ctx context.Context) (int64, int64, error) {
	chunks, err := s.chunks.ResetFailed(ctx)
	if err != nil {
		return 0, 0, err
	}
	docs, err := s.docs.ResetFailed(ctx)
	if err != nil {
		return chunks, 0, err
	}
	logutil.GetLogger(ctx).Info("failed items reset", zap.Int64("chunks", chunks), zap.Int64("documents", docs))
	return chunks, docs, nil
}

// ResetIndex empties the vector index and marks every chunk pending.
func (s *IndexerService) ResetIndex(ctx context.Context) (int64, error) {
	if err := s.index.DeleteAll(ctx); err != nil {
		return 0, err
	}
	n, err := s.chunks.ResetAll(ctx)
	if err != nil {
		return 0, err
	}
	logutil.GetLogger(ctx).Info("vector index reset", zap.Int64("chunks", n))
	return n, nil
}

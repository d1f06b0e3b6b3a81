package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/vectorindex"
)

// PipelineReport collects the outcome of each stage that ran.
type PipelineReport struct {
	Scrape *model.BatchResult `json:"scrape,omitempty"`
	Chunk  *model.BatchResult `json:"chunk,omitempty"`
	Embed  *model.BatchResult `json:"embed,omitempty"`
}

// Failed counts failed items across all stages.
func (r PipelineReport) Failed() int {
	n := 0
	for _, res := range []*model.BatchResult{r.Scrape, r.Chunk, r.Embed} {
		if res != nil {
			n += len(res.Failed)
		}
	}
	return n
}

// PipelineService runs the ingestion stages over the configured sources.
type PipelineService struct {
	ingest     *IngestService
	indexer    *IndexerService
	sources    []config.SourceConfig
	embedLimit uint
}

func NewPipelineService(ingest *IngestService, indexer *IndexerService, sources []config.SourceConfig, embedLimit uint) *PipelineService {
	return &PipelineService{ingest: ingest, indexer: indexer, sources: sources, embedLimit: embedLimit}
}

func (s *PipelineService) Scrape(ctx context.Context) PipelineReport {
	res := s.ingest.ScrapeAll(ctx, s.sources)
	return PipelineReport{Scrape: &res}
}

func (s *PipelineService) Chunk(ctx context.Context) (PipelineReport, error) {
	res, err := s.indexer.ChunkPending(ctx, 0)
	if err != nil {
		return PipelineReport{}, err
	}
	return PipelineReport{Chunk: &res}, nil
}

func (s *PipelineService) Embed(ctx context.Context) (PipelineReport, error) {
	res, err := s.indexer.EmbedPending(ctx, s.embedLimit)
	if err != nil {
		return PipelineReport{}, err
	}
	return PipelineReport{Embed: &res}, nil
}

// Full runs scrape, chunk and embed in order. Embedding keeps going until
// no pending chunk is left or a round makes no progress.
func (s *PipelineService) Full(ctx context.Context) (PipelineReport, error) {
	report := s.Scrape(ctx)
	chunked, err := s.Chunk(ctx)
	if err != nil {
		return report, err
	}
	report.Chunk = chunked.Chunk
	embed := model.BatchResult{}
	for ctx.Err() == nil {
		round, err := s.indexer.EmbedPending(ctx, s.embedLimit)
		if err != nil {
			return report, err
		}
		embed.Merge(round)
		if round.Successful == 0 {
			break
		}
	}
	report.Embed = &embed
	logutil.GetLogger(ctx).Info("pipeline finished",
		zap.Int("scraped", report.Scrape.Successful),
		zap.Int("chunked", report.Chunk.Successful),
		zap.Int("embedded", embed.Successful),
		zap.Int("failed", report.Failed()))
	return report, nil
}

type Stats struct {
	Documents     map[string]int64 `json:"documents"`
	Chunks        map[string]int64 `json:"chunks"`
	Index         model.IndexStats `json:"index"`
	Conversations int64            `json:"conversations"`
	Messages      int64            `json:"messages"`
}

type StatsService struct {
	docs     documentStore
	chunks   chunkStore
	convs    conversationStore
	messages messageStore
	index    vectorindex.Index
}

func NewStatsService(docs documentStore, chunks chunkStore, convs conversationStore, messages messageStore, index vectorindex.Index) *StatsService {
	return &StatsService{docs: docs, chunks: chunks, convs: convs, messages: messages, index: index}
}

func (s *StatsService) Collect(ctx context.Context) (*Stats, error) {
	docs, err := s.docs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunks.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := s.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := s.convs.Count(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Documents: docs, Chunks: chunks, Index: idx, Conversations: convs, Messages: msgs}, nil
}

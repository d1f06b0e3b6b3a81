package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

type pipeline interface {
	Chunk(ctx context.Context) (service.PipelineReport, error)
	Embed(ctx context.Context) (service.PipelineReport, error)
}

// EmbedJob segments newly scraped documents and embeds one round of
// pending chunks.
type EmbedJob struct {
	pipeline pipeline
}

func NewEmbedJob(p pipeline) *EmbedJob {
	return &EmbedJob{pipeline: p}
}

func (j *EmbedJob) Name() string {
	return "embed_pending"
}

func (j *EmbedJob) Run(ctx context.Context) error {
	if j.pipeline == nil {
		return nil
	}
	chunked, err := j.pipeline.Chunk(ctx)
	if err != nil {
		return err
	}
	embedded, err := j.pipeline.Embed(ctx)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("embed round done",
		zap.Int("documents", chunked.Chunk.Successful),
		zap.Int("chunks", embedded.Embed.Successful),
		zap.Int("failed", chunked.Failed()+embedded.Failed()))
	return nil
}

package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/vectorindex"
)

const reconcilePageSize = 200

// AuditReport lists the chunks whose status disagrees with the index.
type AuditReport struct {
	Checked int `json:"checked"`
	// MissingVectors are embedded chunks without a live vector.
	MissingVectors []string `json:"missing_vectors"`
	// OrphanVectors are vectors of pending or failed chunks.
	OrphanVectors []string `json:"orphan_vectors"`
}

func (r AuditReport) Consistent() bool {
	return len(r.MissingVectors) == 0 && len(r.OrphanVectors) == 0
}

// ReconcileService compares the chunk table with the vector index. The two
// stores share no transaction, so drift is repaired after the fact.
type ReconcileService struct {
	chunks chunkStore
	index  vectorindex.Index
}

func NewReconcileService(chunks chunkStore, index vectorindex.Index) *ReconcileService {
	return &ReconcileService{chunks: chunks, index: index}
}

// Audit pages over chunks of every status and checks each against the
// index by its derived vector id.
func (s *ReconcileService) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}
	statuses := []model.EmbeddingStatus{
		model.EmbeddingStatusEmbedded,
		model.EmbeddingStatusPending,
		model.EmbeddingStatusFailed,
	}
	for _, status := range statuses {
		if err := s.auditStatus(ctx, status, report); err != nil {
			return nil, err
		}
	}
	logutil.GetLogger(ctx).Info("reconcile audit finished",
		zap.Int("checked", report.Checked),
		zap.Int("missing_vectors", len(report.MissingVectors)),
		zap.Int("orphan_vectors", len(report.OrphanVectors)))
	return report, nil
}

func (s *ReconcileService) auditStatus(ctx context.Context, status model.EmbeddingStatus, report *AuditReport) error {
	wantVector := status == model.EmbeddingStatusEmbedded
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.chunks.ListPage(ctx, status, after, reconcilePageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		live, err := s.liveIDs(ctx, page)
		if err != nil {
			return err
		}
		for _, c := range page {
			report.Checked++
			hasVector := live[vectorindex.VectorID(c.ID)]
			switch {
			case wantVector && !hasVector:
				report.MissingVectors = append(report.MissingVectors, c.ID)
			case !wantVector && hasVector:
				report.OrphanVectors = append(report.OrphanVectors, c.ID)
			}
		}
		if len(page) < reconcilePageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (s *ReconcileService) liveIDs(ctx context.Context, chunks []model.Chunk) (map[string]bool, error) {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, vectorindex.VectorID(c.ID))
	}
	records, err := s.index.Fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(records))
	for _, rec := range records {
		live[rec.ID] = true
	}
	return live, nil
}

// Repair flips embedded chunks without a vector back to pending and drops
// vectors belonging to chunks that are not embedded.
func (s *ReconcileService) Repair(ctx context.Context, report *AuditReport) (model.BatchResult, error) {
	var res model.BatchResult
	logger := logutil.GetLogger(ctx)
	for _, id := range report.MissingVectors {
		if err := s.chunks.MarkPending(ctx, id); err != nil {
			logger.Error("requeue chunk failed", zap.String("chunk_id", id), zap.Error(err))
			res.Fail(id, err)
			continue
		}
		res.Successful++
	}
	if len(report.OrphanVectors) > 0 {
		ids := make([]string, 0, len(report.OrphanVectors))
		for _, id := range report.OrphanVectors {
			ids = append(ids, vectorindex.VectorID(id))
		}
		if err := s.index.Delete(ctx, ids); err != nil {
			return res, err
		}
		res.Successful += len(ids)
	}
	logger.Info("reconcile repair finished", zap.Int("repaired", res.Successful), zap.Int("failed", len(res.Failed)))
	return res, nil
}

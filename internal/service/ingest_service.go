package service

import (
	"context"
	"errors"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/extractor"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/fetcher"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/snapshot"
)

// IngestService turns URLs into pending documents. A URL already present is
// never fetched again.
type IngestService struct {
	docs      documentStore
	fetcher   pageFetcher
	snapshots snapshot.Store
	delay     time.Duration
}

func NewIngestService(docs documentStore, f pageFetcher, snapshots snapshot.Store, delay time.Duration) *IngestService {
	return &IngestService{docs: docs, fetcher: f, snapshots: snapshots, delay: delay}
}

// Scrape fetches and extracts one page and stores it as a pending document.
func (s *IngestService) Scrape(ctx context.Context, pageURL string, useRenderer bool) (*model.IngestResult, error) {
	if err := fetcher.ValidateURL(pageURL); err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("url", pageURL))
	existing, err := s.docs.GetByURL(ctx, pageURL)
	if err == nil {
		logger.Debug("document already scraped", zap.String("document_id", existing.ID))
		return &model.IngestResult{DocumentID: existing.ID, Skipped: true}, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, err
	}

	page, err := s.fetcher.Fetch(ctx, pageURL, useRenderer)
	if err != nil {
		logger.Error("fetch page failed", zap.Error(err))
		return nil, err
	}
	extracted := extractor.Extract(page.Body, pageURL)
	now := timeutil.NowUnix()
	doc := &model.Document{
		ID:             newID(),
		URL:            pageURL,
		Title:          extracted.Title,
		RawContent:     page.Body,
		CleanedContent: extracted.Text,
		WordCount:      extracted.WordCount,
		Status:         model.DocumentStatusPending,
		Metadata: model.Metadata{
			"content_type": page.ContentType,
		},
		ScrapedAt: now,
		Mtime:     now,
	}
	if page.Rendered {
		doc.Metadata["rendered"] = "true"
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, appErr.ErrConflict) {
			// lost a race with a concurrent scrape of the same URL
			if existing, getErr := s.docs.GetByURL(ctx, pageURL); getErr == nil {
				return &model.IngestResult{DocumentID: existing.ID, Skipped: true}, nil
			}
		}
		return nil, err
	}
	s.archive(ctx, doc.ID, page)
	logger.Info("document scraped",
		zap.String("document_id", doc.ID),
		zap.String("title", doc.Title),
		zap.Int("word_count", doc.WordCount),
		zap.Bool("rendered", page.Rendered))
	return &model.IngestResult{DocumentID: doc.ID}, nil
}

func (s *IngestService) archive(ctx context.Context, documentID string, page *fetcher.Result) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(ctx, snapshot.DocumentKey(documentID), []byte(page.Body), "text/html; charset=utf-8"); err != nil {
		logutil.GetLogger(ctx).Warn("archive raw page failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

// ScrapeAll walks sources in order with a pause between URLs. Failures are
// recorded and never stop the walk.
func (s *IngestService) ScrapeAll(ctx context.Context, sources []config.SourceConfig) model.BatchResult {
	logger := logutil.GetLogger(ctx)
	logger.Info("scrape started", zap.Int("sources", len(sources)))
	var res model.BatchResult
	for i, src := range sources {
		if ctx.Err() != nil {
			logger.Warn("scrape cancelled", zap.Int("remaining", len(sources)-i))
			break
		}
		if i > 0 && !timeutil.Sleep(ctx, s.delay) {
			break
		}
		out, err := s.Scrape(ctx, src.URL, src.UseRenderer)
		switch {
		case err != nil:
			res.Fail(src.URL, err)
		case out.Skipped:
			res.Skipped++
		default:
			res.Successful++
		}
	}
	logger.Info("scrape finished",
		zap.Int("successful", res.Successful),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)))
	return res
}

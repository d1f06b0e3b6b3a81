package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/response"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

type scraper interface {
	Scrape(ctx context.Context, pageURL string, useRenderer bool) (*model.IngestResult, error)
}

type documentIndexer interface {
	IngestDocument(ctx context.Context, documentID string) (*model.IngestResult, error)
}

type statsCollector interface {
	Collect(ctx context.Context) (*service.Stats, error)
}

type DocumentHandler struct {
	ingest  scraper
	indexer documentIndexer
	stats   statsCollector
}

func NewDocumentHandler(ingest scraper, indexer documentIndexer, stats statsCollector) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, indexer: indexer, stats: stats}
}

type scrapeRequest struct {
	URL         string `json:"url"`
	UseRenderer bool   `json:"use_renderer"`
	// Chunk segments the new document right away; embedding still runs
	// in the background job.
	Chunk bool `json:"chunk"`
}

func (h *DocumentHandler) Scrape(c *gin.Context) {
	limitBody(c, maxRequestBytes)
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	ctx := c.Request.Context()
	res, err := h.ingest.Scrape(ctx, req.URL, req.UseRenderer)
	if err != nil {
		handleError(c, err)
		return
	}
	if req.Chunk && !res.Skipped {
		chunked, err := h.indexer.IngestDocument(ctx, res.DocumentID)
		if err != nil {
			handleError(c, err)
			return
		}
		res.Chunks = chunked.Chunks
	}
	response.Success(c, res)
}

func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Collect(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}

package service

import (
	"context"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/fetcher"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
)

// The service layer depends on these narrow views of the repositories so
// tests can run against in-memory fakes.

type documentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	GetByURL(ctx context.Context, url string) (*model.Document, error)
	ListByStatus(ctx context.Context, status model.DocumentStatus, limit uint) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error
	ResetFailed(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type chunkStore interface {
	ReplaceForDocument(ctx context.Context, documentID string, chunks []model.Chunk) error
	ListPending(ctx context.Context, limit uint) ([]model.Chunk, error)
	ListPage(ctx context.Context, status model.EmbeddingStatus, afterID string, limit uint) ([]model.Chunk, error)
	GetWithDocuments(ctx context.Context, ids []string) ([]model.ChunkWithDocument, error)
	MarkEmbedded(ctx context.Context, id, vectorID string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	MarkPending(ctx context.Context, id string) error
	ResetFailed(ctx context.Context) (int64, error)
	ResetAll(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type conversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	GetBySession(ctx context.Context, sessionID string) (*model.Conversation, error)
	Touch(ctx context.Context, id, title string, at int64) error
	UpdateStatus(ctx context.Context, id string, status model.ConversationStatus) error
	Count(ctx context.Context) (int64, error)
}

type messageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	SetFeedback(ctx context.Context, id, feedback string) error
	Count(ctx context.Context) (int64, error)
}

type pageFetcher interface {
	Fetch(ctx context.Context, pageURL string, useRenderer bool) (*fetcher.Result, error)
}

package repo_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/repo"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/testutil"
)

func buildChunks(docID string, n int) []model.Chunk {
	now := timeutil.NowUnix()
	chunks := make([]model.Chunk, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, model.Chunk{
			ID:         fmt.Sprintf("%s-c%d", docID, i),
			DocumentID: docID,
			Text:       fmt.Sprintf("chunk %d", i),
			Index:      i,
			Size:       7,
			Ctime:      now,
			Mtime:      now,
		})
	}
	return chunks
}

func TestChunkRepoReplaceForDocument(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	docs := repo.NewDocumentRepo(db)
	chunks := repo.NewChunkRepo(db)

	require.NoError(t, docs.Create(ctx, newDoc("doc-1", "https://docs.stripe.com/a")))
	require.NoError(t, chunks.ReplaceForDocument(ctx, "doc-1", buildChunks("doc-1", 4)))

	doc, err := docs.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusProcessed, doc.Status)

	list, err := chunks.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, c := range list {
		require.Equal(t, i, c.Index)
		require.Equal(t, model.EmbeddingStatusPending, c.EmbeddingStatus)
	}

	require.NoError(t, chunks.ReplaceForDocument(ctx, "doc-1", buildChunks("doc-1", 2)))
	list, err = chunks.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	err = chunks.ReplaceForDocument(ctx, "missing", nil)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestChunkRepoEmbeddingLifecycle(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	docs := repo.NewDocumentRepo(db)
	chunks := repo.NewChunkRepo(db)

	require.NoError(t, docs.Create(ctx, newDoc("doc-1", "https://docs.stripe.com/a")))
	require.NoError(t, chunks.ReplaceForDocument(ctx, "doc-1", buildChunks("doc-1", 3)))

	pending, err := chunks.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, 0, pending[0].Index)

	require.NoError(t, chunks.MarkEmbedded(ctx, "doc-1-c0", "vec-0"))
	require.NoError(t, chunks.MarkFailed(ctx, "doc-1-c1", "rate limited"))

	joined, err := chunks.GetWithDocuments(ctx, []string{"doc-1-c0", "unknown"})
	require.NoError(t, err)
	require.Len(t, joined, 1)
	require.Equal(t, "vec-0", joined[0].VectorID)
	require.Equal(t, "https://docs.stripe.com/a", joined[0].DocumentURL)
	require.Equal(t, "Payments", joined[0].DocumentTitle)

	counts, err := chunks.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts["embedded"])
	require.Equal(t, int64(1), counts["failed"])
	require.Equal(t, int64(1), counts["pending"])

	moved, err := chunks.ResetFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), moved)

	page, err := chunks.ListPage(ctx, model.EmbeddingStatusEmbedded, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)

	require.NoError(t, chunks.MarkPending(ctx, "doc-1-c0"))
	c, err := chunks.GetByID(ctx, "doc-1-c0")
	require.NoError(t, err)
	require.Empty(t, c.VectorID)

	all, err := chunks.ResetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), all)
}

func TestChunkRepoMarkFailedTruncatesByRune(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	docs := repo.NewDocumentRepo(db)
	chunks := repo.NewChunkRepo(db)

	require.NoError(t, docs.Create(ctx, newDoc("doc-1", "https://docs.stripe.com/a")))
	require.NoError(t, chunks.ReplaceForDocument(ctx, "doc-1", buildChunks("doc-1", 1)))

	// 1001 three-byte runes; a byte cut at 1000 would split one.
	msg := strings.Repeat("€", 1001)
	require.NoError(t, chunks.MarkFailed(ctx, "doc-1-c0", msg))

	c, err := chunks.GetByID(ctx, "doc-1-c0")
	require.NoError(t, err)
	require.True(t, utf8.ValidString(c.ErrorMessage))
	require.Equal(t, 1000, utf8.RuneCountInString(c.ErrorMessage))
	require.Equal(t, strings.Repeat("€", 1000), c.ErrorMessage)
}

package repo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/repo"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/testutil"
)

func TestConversationAndMessages(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	convs := repo.NewConversationRepo(db)
	msgs := repo.NewMessageRepo(db)

	conv := &model.Conversation{ID: "conv-1", SessionID: "sess-1", Status: model.ConversationStatusActive, StartedAt: 100, LastMessageAt: 100}
	require.NoError(t, convs.Create(ctx, conv))
	require.ErrorIs(t, convs.Create(ctx, &model.Conversation{ID: "conv-2", SessionID: "sess-1", Status: model.ConversationStatusActive}), appErr.ErrConflict)

	for i := 0; i < 5; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		require.NoError(t, msgs.Create(ctx, &model.Message{
			ID:             fmt.Sprintf("m-%d", i),
			ConversationID: "conv-1",
			Role:           role,
			Content:        fmt.Sprintf("message %d", i),
			Sources:        []model.Source{{Title: "Refunds", URL: "https://docs.stripe.com/refunds", Score: 0.8}},
			CreatedAt:      int64(100 + i),
		}))
	}
	require.NoError(t, convs.Touch(ctx, "conv-1", "first question", 200))

	got, err := convs.GetBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "first question", got.Title)
	require.Equal(t, int64(200), got.LastMessageAt)

	recent, err := msgs.ListRecent(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, "m-2", recent[0].ID)
	require.Equal(t, "m-4", recent[2].ID)
	require.Len(t, recent[0].Sources, 1)

	require.NoError(t, msgs.SetFeedback(ctx, "m-1", "helpful"))
	m, err := msgs.GetByID(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, m.Feedback)
	require.Equal(t, "helpful", *m.Feedback)
	require.ErrorIs(t, msgs.SetFeedback(ctx, "nope", "x"), appErr.ErrNotFound)

	require.NoError(t, convs.UpdateStatus(ctx, "conv-1", model.ConversationStatusArchived))
	got, err = convs.GetByID(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, model.ConversationStatusArchived, got.Status)
}

func TestEmbeddingCacheRepoRoundTrip(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	cache := repo.NewEmbeddingCacheRepo(db)

	_, ok, err := cache.Get(ctx, "m", "doc", "h")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{ModelName: "m", TaskType: "doc", ContentHash: "h", Embedding: []float32{1, 2, 3}, Ctime: 10}))
	vec, ok, err := cache.Get(ctx, "m", "doc", "h")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, vec)

	n, err := cache.DeleteBefore(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

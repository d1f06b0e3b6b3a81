package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

type mockAnswerer struct {
	err  error
	opts service.AnswerOptions
}

func (m *mockAnswerer) Answer(ctx context.Context, query string, opts service.AnswerOptions) (*model.Answer, error) {
	m.opts = opts
	if m.err != nil {
		return nil, m.err
	}
	return &model.Answer{
		Text:     "Payouts arrive in 2 business days [Source 1].",
		Sources:  []model.Source{{Title: "Payouts", URL: "https://docs.stripe.com/payouts", Score: 0.82}},
		Metadata: model.AnswerMetadata{ChunksUsed: 1, AvgScore: 0.82},
	}, nil
}

type mockStats struct{}

func (mockStats) Collect(ctx context.Context) (*service.Stats, error) {
	return &service.Stats{Index: model.IndexStats{Count: 4, Dimension: 768}}, nil
}

func TestNewRequiresAnswerer(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestHandleAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("returns answer and sources", func(t *testing.T) {
		m := &mockAnswerer{}
		s, err := New(m, nil)
		require.NoError(t, err)
		_, out, err := s.handleAsk(ctx, nil, AskInput{Question: "When do payouts arrive?", TopK: 3})
		require.NoError(t, err)
		assert.Contains(t, out.Answer, "2 business days")
		assert.Len(t, out.Sources, 1)
		assert.Equal(t, 1, out.ChunksUsed)
		assert.Equal(t, 3, m.opts.TopK)
	})

	t.Run("rejects empty question", func(t *testing.T) {
		s, err := New(&mockAnswerer{}, nil)
		require.NoError(t, err)
		_, _, err = s.handleAsk(ctx, nil, AskInput{Question: " "})
		require.Error(t, err)
	})

	t.Run("propagates answer failure", func(t *testing.T) {
		s, err := New(&mockAnswerer{err: errors.New("index offline")}, nil)
		require.NoError(t, err)
		_, _, err = s.handleAsk(ctx, nil, AskInput{Question: "x"})
		require.ErrorContains(t, err, "index offline")
	})
}

func TestToolsOverInMemoryTransport(t *testing.T) {
	ctx := context.Background()
	s, err := New(&mockAnswerer{}, mockStats{})
	require.NoError(t, err)

	serverT, clientT := mcp.NewInMemoryTransports()
	serverSession, err := s.server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ask_docs", "index_stats"}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "ask_docs",
		Arguments: map[string]any{"question": "When do payouts arrive?"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "2 business days")
}

package mcpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

type AskInput struct {
	Question string   `json:"question" jsonschema:"the developer question to answer from the documentation"`
	TopK     int      `json:"top_k,omitempty" jsonschema:"number of passages to retrieve (default from config)"`
	MinScore *float32 `json:"min_score,omitempty" jsonschema:"minimum similarity score in [0,1] for a passage to be used"`
}

type AskOutput struct {
	Answer     string         `json:"answer"`
	Sources    []model.Source `json:"sources"`
	ChunksUsed int            `json:"chunks_used"`
	AvgScore   float32        `json:"avg_score"`
}

type StatsInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_docs",
		Description: "Answer a question from the indexed documentation with cited sources",
	}, s.handleAsk)
	if s.stats != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "index_stats",
			Description: "Report document, chunk and vector counts of the documentation index",
		}, s.handleStats)
	}
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskOutput{}, errors.New("question is required")
	}
	ans, err := s.answers.Answer(ctx, input.Question, service.AnswerOptions{TopK: input.TopK, MinScore: input.MinScore})
	if err != nil {
		return nil, AskOutput{}, err
	}
	return nil, AskOutput{
		Answer:     ans.Text,
		Sources:    ans.Sources,
		ChunksUsed: ans.Metadata.ChunksUsed,
		AvgScore:   ans.Metadata.AvgScore,
	}, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, service.Stats, error) {
	stats, err := s.stats.Collect(ctx)
	if err != nil {
		return nil, service.Stats{}, err
	}
	return nil, *stats, nil
}

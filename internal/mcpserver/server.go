// Package mcpserver exposes the answer engine as Model Context Protocol
// tools so assistants can query the documentation index directly.
package mcpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

const (
	Name    = "docs-support-agent"
	Version = "0.1.0"
)

type answerer interface {
	Answer(ctx context.Context, query string, opts service.AnswerOptions) (*model.Answer, error)
}

type statsCollector interface {
	Collect(ctx context.Context) (*service.Stats, error)
}

type Server struct {
	answers answerer
	stats   statsCollector
	server  *mcp.Server
}

func New(answers answerer, stats statsCollector) (*Server, error) {
	if answers == nil {
		return nil, errors.New("answer service is required")
	}
	s := &Server{
		answers: answers,
		stats:   stats,
		server:  mcp.NewServer(&mcp.Implementation{Name: Name, Version: Version}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

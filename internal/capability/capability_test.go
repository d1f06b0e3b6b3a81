package capability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
)

type fakeProvider struct {
	tools   []string
	listErr error
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeProvider) ListCapabilities(ctx context.Context) ([]string, error) {
	return f.tools, f.listErr
}

func (f *fakeProvider) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	f.calls = append(f.calls, name+":"+args["q"].(string))
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.replies[name], nil
}

func (f *fakeProvider) Close() error { return nil }

func TestNoopNeverAugments(t *testing.T) {
	a := NewAugmenter(Noop(), config.CapabilityConfig{})
	text, ok := a.Augment(context.Background(), "refunds")
	require.False(t, ok)
	require.Empty(t, text)
}

func TestAugmentSwallowsFailures(t *testing.T) {
	p := &fakeProvider{listErr: errors.New("down")}
	_, ok := NewAugmenter(p, config.CapabilityConfig{QueryArg: "q"}).Augment(context.Background(), "x")
	require.False(t, ok)

	p = &fakeProvider{
		tools:   []string{"search", "status"},
		replies: map[string]string{"status": "all systems normal"},
		errs:    map[string]error{"search": errors.New("boom")},
	}
	text, ok := NewAugmenter(p, config.CapabilityConfig{QueryArg: "q", Tools: []string{"search", "status", "absent"}}).
		Augment(context.Background(), "x")
	require.True(t, ok)
	require.Equal(t, "all systems normal", text)
	require.Equal(t, []string{"search:x", "status:x"}, p.calls)
}

func TestAugmentDefaultsToFirstToolAndTruncates(t *testing.T) {
	p := &fakeProvider{
		tools:   []string{"lookup", "other"},
		replies: map[string]string{"lookup": strings.Repeat("é", 50)},
	}
	text, ok := NewAugmenter(p, config.CapabilityConfig{QueryArg: "q", MaxLength: 10}).Augment(context.Background(), "x")
	require.True(t, ok)
	require.Equal(t, strings.Repeat("é", 10), text)
	require.Equal(t, []string{"lookup:x"}, p.calls)
}

func TestNewRejectsUnknownType(t *testing.T) {
	p, err := New(config.CapabilityConfig{Type: "none"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	_, err = New(config.CapabilityConfig{Type: "grpc"})
	require.Error(t, err)
	_, err = New(config.CapabilityConfig{Type: "mcp"})
	require.Error(t, err)
}

type lookupInput struct {
	Query string `json:"query"`
}

func TestMCPProviderInMemory(t *testing.T) {
	ctx := context.Background()
	server := mcp.NewServer(&mcp.Implementation{Name: "status", Version: "v0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "lookup", Description: "look up status"},
		func(ctx context.Context, req *mcp.CallToolRequest, in lookupInput) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "status for " + in.Query}},
			}, nil, nil
		})
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	p := newMCPProvider(func() mcp.Transport { return clientTransport })
	defer func() { _ = p.Close() }()

	names, err := p.ListCapabilities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"lookup"}, names)

	text, ok := NewAugmenter(p, config.CapabilityConfig{}).Augment(ctx, "payouts")
	require.True(t, ok)
	require.Equal(t, "status for payouts", text)
}

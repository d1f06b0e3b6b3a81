package capability

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
)

const clientVersion = "0.1.0"

// mcpProvider exposes the tools of an MCP server as capabilities. The
// session is opened on first use and dropped after a failed call so the
// next call reconnects.
type mcpProvider struct {
	dial   func() mcp.Transport
	client *mcp.Client

	mu      sync.Mutex
	session *mcp.ClientSession
}

// NewMCP connects over streamable HTTP when an endpoint is configured,
// otherwise it spawns the configured command and talks over stdio.
func NewMCP(cfg config.CapabilityConfig) (Provider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	switch {
	case endpoint != "":
		return newMCPProvider(func() mcp.Transport {
			return &mcp.StreamableClientTransport{Endpoint: endpoint}
		}), nil
	case len(cfg.Command) > 0:
		command := append([]string(nil), cfg.Command...)
		return newMCPProvider(func() mcp.Transport {
			return &mcp.CommandTransport{Command: exec.Command(command[0], command[1:]...)}
		}), nil
	default:
		return nil, fmt.Errorf("mcp capability needs an endpoint or a command")
	}
}

func newMCPProvider(dial func() mcp.Transport) *mcpProvider {
	return &mcpProvider{
		dial:   dial,
		client: mcp.NewClient(&mcp.Implementation{Name: "supportagent", Version: clientVersion}, nil),
	}
}

func (p *mcpProvider) connect(ctx context.Context) (*mcp.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session, nil
	}
	session, err := p.client.Connect(ctx, p.dial(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp: %w", err)
	}
	p.session = session
	return session, nil
}

func (p *mcpProvider) drop(session *mcp.ClientSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == session {
		_ = session.Close()
		p.session = nil
	}
}

func (p *mcpProvider) ListCapabilities(ctx context.Context) ([]string, error) {
	session, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		p.drop(session)
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

func (p *mcpProvider) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	session, err := p.connect(ctx)
	if err != nil {
		return "", err
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		p.drop(session)
		return "", err
	}
	var sb strings.Builder
	for _, content := range res.Content {
		text, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text.Text)
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, sb.String())
	}
	return sb.String(), nil
}

func (p *mcpProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

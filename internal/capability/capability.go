package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
)

// Provider is an optional source of supplementary context.
type Provider interface {
	ListCapabilities(ctx context.Context) ([]string, error)
	// Invoke runs the named capability. An empty result means it had
	// nothing to add.
	Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error)
	Close() error
}

type noop struct{}

// Noop is used when no capability provider is configured.
func Noop() Provider {
	return noop{}
}

func (noop) ListCapabilities(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (noop) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return "", nil
}

func (noop) Close() error {
	return nil
}

// New builds the provider described by cfg.
func New(cfg config.CapabilityConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return Noop(), nil
	case "mcp":
		return NewMCP(cfg)
	default:
		return nil, fmt.Errorf("unsupported capability type: %s", cfg.Type)
	}
}

// Augmenter asks a provider for extra context about a query. Every failure
// is logged and swallowed.
type Augmenter struct {
	provider Provider
	tools    []string
	queryArg string
	timeout  time.Duration
	maxLen   int
}

func NewAugmenter(p Provider, cfg config.CapabilityConfig) *Augmenter {
	if p == nil {
		p = Noop()
	}
	queryArg := cfg.QueryArg
	if queryArg == "" {
		queryArg = "query"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Augmenter{
		provider: p,
		tools:    cfg.Tools,
		queryArg: queryArg,
		timeout:  timeout,
		maxLen:   cfg.MaxLength,
	}
}

// Augment returns supplementary text and whether any was produced.
func (a *Augmenter) Augment(ctx context.Context, query string) (string, bool) {
	if a == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	logger := logutil.GetLogger(ctx)

	available, err := a.provider.ListCapabilities(ctx)
	if err != nil {
		logger.Warn("list capabilities failed", zap.Error(err))
		return "", false
	}
	if len(available) == 0 {
		return "", false
	}
	tools := a.tools
	if len(tools) == 0 {
		tools = available[:1]
	}
	offered := make(map[string]struct{}, len(available))
	for _, name := range available {
		offered[name] = struct{}{}
	}
	parts := make([]string, 0, len(tools))
	for _, name := range tools {
		if _, ok := offered[name]; !ok {
			continue
		}
		text, err := a.provider.Invoke(ctx, name, map[string]interface{}{a.queryArg: query})
		if err != nil {
			logger.Warn("capability invoke failed", zap.String("capability", name), zap.Error(err))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return "", false
	}
	return truncate(strings.Join(parts, "\n\n"), a.maxLen), true
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultLocalBaseURL = "http://localhost:11434/v1"

type localConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// localProvider talks to a self-hosted OpenAI-compatible server such as
// Ollama or llama.cpp through langchaingo.
type localProvider struct {
	baseURL string
	token   string

	mu       sync.Mutex
	chats    map[string]*openai.LLM
	embedder map[string]embeddings.Embedder
}

func (p *localProvider) Name() string {
	return "local"
}

func (p *localProvider) chatClient(model string) (*openai.LLM, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.chats[model]; ok {
		return c, nil
	}
	c, err := openai.New(
		openai.WithBaseURL(p.baseURL),
		openai.WithToken(p.token),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	p.chats[model] = c
	return c, nil
}

func (p *localProvider) embedClient(model string) (embeddings.Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.embedder[model]; ok {
		return e, nil
	}
	c, err := openai.New(
		openai.WithBaseURL(p.baseURL),
		openai.WithToken(p.token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}
	e, err := embeddings.NewEmbedder(c, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	p.embedder[model] = e
	return e, nil
}

func (p *localProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	return p.GenerateStream(ctx, model, prompt, nil)
}

func (p *localProvider) GenerateStream(ctx context.Context, model string, prompt string, onDelta func(string) error) (string, error) {
	client, err := p.chatClient(model)
	if err != nil {
		return "", err
	}
	opts := []llms.CallOption{llms.WithTemperature(0.2)}
	if onDelta != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return onDelta(string(chunk))
		}))
	}
	text, err := llms.GenerateFromSinglePrompt(ctx, client, prompt, opts...)
	if err != nil {
		return "", classify("local generate", err)
	}
	return strings.TrimSpace(text), nil
}

func (p *localProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	e, err := p.embedClient(model)
	if err != nil {
		return nil, err
	}
	if taskType == TaskRetrievalQuery {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, classify("local embed", err)
		}
		return vec, nil
	}
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, classify("local embed", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("local embedder returned no vectors")
	}
	return vecs[0], nil
}

func createLocalFactory(args interface{}) (IProvider, error) {
	cfg := &localConfig{}
	if args != nil {
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultLocalBaseURL
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		token = "none"
	}
	return &localProvider{
		baseURL:  baseURL,
		token:    token,
		chats:    map[string]*openai.LLM{},
		embedder: map[string]embeddings.Embedder{},
	}, nil
}

func init() {
	Register("local", createLocalFactory)
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/ai"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/capability"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/vectorindex"
)

const (
	// FallbackSentence is returned whenever the documentation does not
	// cover the question.
	FallbackSentence = "I couldn't find information about that in the documentation. Please rephrase your question or contact support for further help."
	noContextNotice  = "No relevant documentation was found for this question."
	answerFailedMsg  = "Sorry, I couldn't answer that right now. Please try again in a moment."
	contextDelimiter = "\n\n---\n\n"
	answerCacheSize  = 1024
)

const systemInstructions = `You are a friendly, precise support assistant for a payments platform's developer documentation.
Rules:
- Answer only from the documentation context below. Never invent API names, parameters or behavior.
- Cite the sources you used by their [Source N] label.
- Format the answer in Markdown: short paragraphs, bullet lists for steps, fenced code blocks for code.
- Keep the answer concise and directly useful to a developer.
- If the context does not contain the answer, reply with exactly this sentence and nothing else:
%s`

type AnswerSettings struct {
	TopK         int
	MinScore     float32
	HistoryTurns int
	ExcerptChars int
	CacheTTL     time.Duration
}

type AnswerOptions struct {
	// TopK and MinScore override the configured defaults when set.
	TopK     int
	MinScore *float32
	History  []model.Turn
	// Filter restricts retrieval to vectors carrying this metadata.
	Filter model.Metadata
}

// AnswerService retrieves documentation passages for a question and asks
// the language model for a cited answer. It reads history but never
// writes to the conversation ledger.
type AnswerService struct {
	embedder  ai.IEmbedder
	index     vectorindex.Index
	chunks    chunkStore
	generator ai.IStreamGenerator
	augmenter *capability.Augmenter
	settings  AnswerSettings
	cache     *expirable.LRU[string, model.Answer]
}

func NewAnswerService(embedder ai.IEmbedder, index vectorindex.Index, chunks chunkStore, generator ai.IStreamGenerator, augmenter *capability.Augmenter, settings AnswerSettings) *AnswerService {
	if settings.TopK <= 0 {
		settings.TopK = 5
	}
	s := &AnswerService{
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		generator: generator,
		augmenter: augmenter,
		settings:  settings,
	}
	if settings.CacheTTL > 0 {
		s.cache = expirable.NewLRU[string, model.Answer](answerCacheSize, nil, settings.CacheTTL)
	}
	return s
}

type preparedAnswer struct {
	prompt   string
	sources  []model.Source
	meta     model.AnswerMetadata
	fallback bool
}

func (s *AnswerService) Answer(ctx context.Context, query string, opts AnswerOptions) (*model.Answer, error) {
	return s.AnswerStream(ctx, query, opts, nil)
}

// AnswerStream is Answer with incremental text delivered through onDelta
// when the generator can stream. The full text is still returned.
func (s *AnswerService) AnswerStream(ctx context.Context, query string, opts AnswerOptions, onDelta func(string) error) (*model.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, appErr.Invalid("query", "must not be empty")
	}
	logger := logutil.GetLogger(ctx).With(zap.String("query", query))
	topK, minScore := s.limits(opts)
	cacheable := s.cache != nil && len(opts.History) == 0 && len(opts.Filter) == 0
	if cacheable {
		if cached, ok := s.cache.Get(answerCacheKey(query, topK, minScore)); ok {
			logger.Debug("answer cache hit")
			cached.Metadata.Cached = true
			cached.Metadata.Timestamp = timeutil.NowUnix()
			if err := emit(onDelta, cached.Text); err != nil {
				return nil, err
			}
			return &cached, nil
		}
	}
	p, err := s.prepare(ctx, query, topK, minScore, opts)
	if err != nil {
		logger.Error("prepare answer failed", zap.Error(err))
		return nil, &appErr.AnswerError{Message: answerFailedMsg, Err: err}
	}
	answer := &model.Answer{Sources: p.sources, Metadata: p.meta}
	if p.fallback {
		answer.Text = FallbackSentence
		if err := emit(onDelta, answer.Text); err != nil {
			return nil, err
		}
		return answer, nil
	}
	text, err := s.generator.GenerateStream(ctx, p.prompt, onDelta)
	if err != nil {
		logger.Error("generate answer failed", zap.Error(err))
		return nil, &appErr.AnswerError{Message: answerFailedMsg, Err: err}
	}
	answer.Text = strings.TrimSpace(text)
	if answer.Text == "" {
		answer.Text = FallbackSentence
	}
	if cacheable && !p.meta.Augmented {
		s.cache.Add(answerCacheKey(query, topK, minScore), *answer)
	}
	logger.Info("answer generated",
		zap.Int("chunks_used", p.meta.ChunksUsed),
		zap.Float32("avg_score", p.meta.AvgScore),
		zap.Bool("augmented", p.meta.Augmented))
	return answer, nil
}

func emit(onDelta func(string) error, text string) error {
	if onDelta == nil {
		return nil
	}
	return onDelta(text)
}

func (s *AnswerService) limits(opts AnswerOptions) (int, float32) {
	topK := opts.TopK
	if topK <= 0 {
		topK = s.settings.TopK
	}
	minScore := s.settings.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}
	return topK, minScore
}

func (s *AnswerService) prepare(ctx context.Context, query string, topK int, minScore float32, opts AnswerOptions) (*preparedAnswer, error) {
	vec, err := s.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.index.Query(ctx, vec, topK, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	hits, err := s.resolve(ctx, matches, minScore)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks: %w", err)
	}

	p := &preparedAnswer{
		sources: make([]model.Source, 0, len(hits)),
		meta: model.AnswerMetadata{
			ChunksUsed: len(hits),
			Timestamp:  timeutil.NowUnix(),
		},
	}
	var total float32
	for _, h := range hits {
		total += h.score
		p.sources = append(p.sources, model.Source{
			Title:   h.chunk.DocumentTitle,
			URL:     h.chunk.DocumentURL,
			Score:   h.score,
			Excerpt: excerpt(h.chunk.Text, s.settings.ExcerptChars),
		})
	}
	if len(hits) > 0 {
		p.meta.AvgScore = total / float32(len(hits))
	}

	extra, augmented := s.augmenter.Augment(ctx, query)
	p.meta.Augmented = augmented
	if len(hits) == 0 && !augmented {
		p.fallback = true
		return p, nil
	}
	history := lastTurns(opts.History, s.settings.HistoryTurns)
	p.prompt = buildPrompt(query, history, renderContext(hits), extra)
	return p, nil
}

type hit struct {
	chunk model.ChunkWithDocument
	score float32
}

// resolve maps index matches back to stored chunks, keeping index order and
// dropping matches below minScore or without a live chunk.
func (s *AnswerService) resolve(ctx context.Context, matches []model.VectorMatch, minScore float32) ([]hit, error) {
	ids := make([]string, 0, len(matches))
	scores := make(map[string]float32, len(matches))
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		id := m.Metadata[model.MetaChunkID]
		if id == "" {
			continue
		}
		if _, dup := scores[id]; dup {
			continue
		}
		ids = append(ids, id)
		scores[id] = m.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.chunks.GetWithDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.ChunkWithDocument, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	hits := make([]hit, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			logutil.GetLogger(ctx).Warn("vector points at missing chunk", zap.String("chunk_id", id))
			continue
		}
		hits = append(hits, hit{chunk: row, score: scores[id]})
	}
	return hits, nil
}

func renderContext(hits []hit) string {
	if len(hits) == 0 {
		return noContextNotice
	}
	parts := make([]string, 0, len(hits))
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf("[Source %d] %s\nURL: %s\n\n%s",
			i+1, h.chunk.DocumentTitle, h.chunk.DocumentURL, strings.TrimSpace(h.chunk.Text)))
	}
	return strings.Join(parts, contextDelimiter)
}

func buildPrompt(query string, history []model.Turn, contextBlock, extra string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(systemInstructions, FallbackSentence))
	if len(history) > 0 {
		sb.WriteString("\n\nConversation so far:\n")
		for _, turn := range history {
			sb.WriteString(roleLabel(turn.Role))
			sb.WriteString(": ")
			sb.WriteString(strings.TrimSpace(turn.Content))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n\nDocumentation context:\n")
	sb.WriteString(contextBlock)
	if extra != "" {
		sb.WriteString("\n\nAdditional context:\n")
		sb.WriteString(extra)
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

func roleLabel(role model.Role) string {
	if role == model.RoleAssistant {
		return "Assistant"
	}
	return "User"
}

func lastTurns(history []model.Turn, n int) []model.Turn {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 {
		max = 200
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}

func answerCacheKey(query string, topK int, minScore float32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%.4f", strings.ToLower(query), topK, minScore)))
	return hex.EncodeToString(sum[:])
}

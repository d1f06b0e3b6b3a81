package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/fetcher"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

type memDocs struct {
	mu   sync.Mutex
	docs []*model.Document
}

func (m *memDocs) Create(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.URL == doc.URL {
			return appErr.ErrConflict
		}
	}
	cp := *doc
	m.docs = append(m.docs, &cp)
	return nil
}

func (m *memDocs) find(pred func(*model.Document) bool) (*model.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if pred(d) {
			cp := *d
			return &cp, true
		}
	}
	return nil, false
}

func (m *memDocs) GetByID(ctx context.Context, id string) (*model.Document, error) {
	if d, ok := m.find(func(d *model.Document) bool { return d.ID == id }); ok {
		return d, nil
	}
	return nil, appErr.NotFound("document", id)
}

func (m *memDocs) GetByURL(ctx context.Context, url string) (*model.Document, error) {
	if d, ok := m.find(func(d *model.Document) bool { return d.URL == url }); ok {
		return d, nil
	}
	return nil, appErr.NotFound("document", url)
}

func (m *memDocs) ListByStatus(ctx context.Context, status model.DocumentStatus, limit uint) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Document
	for _, d := range m.docs {
		if d.Status != status {
			continue
		}
		out = append(out, *d)
		if limit > 0 && uint(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (m *memDocs) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID == id {
			d.Status = status
			d.ErrorMessage = errMsg
			return nil
		}
	}
	return appErr.NotFound("document", id)
}

func (m *memDocs) ResetFailed(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.docs {
		if d.Status == model.DocumentStatusFailed {
			d.Status = model.DocumentStatusPending
			d.ErrorMessage = ""
			n++
		}
	}
	return n, nil
}

func (m *memDocs) CountByStatus(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, d := range m.docs {
		out[string(d.Status)]++
	}
	return out, nil
}

type memChunks struct {
	mu     sync.Mutex
	docs   *memDocs
	chunks []*model.Chunk
	// failMark makes MarkEmbedded fail for these chunk ids.
	failMark map[string]bool
}

func newMemChunks(docs *memDocs) *memChunks {
	return &memChunks{docs: docs, failMark: map[string]bool{}}
}

func (m *memChunks) ReplaceForDocument(ctx context.Context, documentID string, chunks []model.Chunk) error {
	m.mu.Lock()
	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	for i := range chunks {
		cp := chunks[i]
		m.chunks = append(m.chunks, &cp)
	}
	m.mu.Unlock()
	return m.docs.UpdateStatus(ctx, documentID, model.DocumentStatusProcessed, "")
}

func (m *memChunks) ListPending(ctx context.Context, limit uint) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Chunk
	for _, c := range m.chunks {
		if c.EmbeddingStatus != model.EmbeddingStatusPending {
			continue
		}
		out = append(out, *c)
		if limit > 0 && uint(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (m *memChunks) ListPage(ctx context.Context, status model.EmbeddingStatus, afterID string, limit uint) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Chunk
	for _, c := range m.chunks {
		if c.EmbeddingStatus == status && c.ID > afterID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memChunks) GetWithDocuments(ctx context.Context, ids []string) ([]model.ChunkWithDocument, error) {
	m.mu.Lock()
	var found []model.Chunk
	for _, id := range ids {
		for _, c := range m.chunks {
			if c.ID == id {
				found = append(found, *c)
			}
		}
	}
	m.mu.Unlock()
	out := make([]model.ChunkWithDocument, 0, len(found))
	for _, c := range found {
		doc, err := m.docs.GetByID(ctx, c.DocumentID)
		if err != nil {
			continue
		}
		out = append(out, model.ChunkWithDocument{Chunk: c, DocumentTitle: doc.Title, DocumentURL: doc.URL})
	}
	return out, nil
}

func (m *memChunks) update(id string, fn func(*model.Chunk)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.ID == id {
			fn(c)
			return nil
		}
	}
	return appErr.NotFound("chunk", id)
}

func (m *memChunks) MarkEmbedded(ctx context.Context, id, vectorID string) error {
	m.mu.Lock()
	fail := m.failMark[id]
	m.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return m.update(id, func(c *model.Chunk) {
		c.EmbeddingStatus = model.EmbeddingStatusEmbedded
		c.VectorID = vectorID
		c.ErrorMessage = ""
	})
}

func (m *memChunks) MarkFailed(ctx context.Context, id, errMsg string) error {
	return m.update(id, func(c *model.Chunk) {
		c.EmbeddingStatus = model.EmbeddingStatusFailed
		c.ErrorMessage = errMsg
	})
}

func (m *memChunks) MarkPending(ctx context.Context, id string) error {
	return m.update(id, func(c *model.Chunk) {
		c.EmbeddingStatus = model.EmbeddingStatusPending
		c.VectorID = ""
	})
}

func (m *memChunks) reset(from ...model.EmbeddingStatus) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.chunks {
		for _, s := range from {
			if c.EmbeddingStatus == s {
				c.EmbeddingStatus = model.EmbeddingStatusPending
				c.VectorID = ""
				c.ErrorMessage = ""
				n++
				break
			}
		}
	}
	return n
}

func (m *memChunks) ResetFailed(ctx context.Context) (int64, error) {
	return m.reset(model.EmbeddingStatusFailed), nil
}

func (m *memChunks) ResetAll(ctx context.Context) (int64, error) {
	return m.reset(model.EmbeddingStatusEmbedded, model.EmbeddingStatusFailed), nil
}

func (m *memChunks) CountByStatus(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, c := range m.chunks {
		out[string(c.EmbeddingStatus)]++
	}
	return out, nil
}

func (m *memChunks) get(id string) model.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.ID == id {
			return *c
		}
	}
	return model.Chunk{}
}

type memConvs struct {
	mu    sync.Mutex
	convs []*model.Conversation
}

func (m *memConvs) Create(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.SessionID == conv.SessionID {
			return appErr.ErrConflict
		}
	}
	cp := *conv
	m.convs = append(m.convs, &cp)
	return nil
}

func (m *memConvs) GetBySession(ctx context.Context, sessionID string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.SessionID == sessionID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, appErr.NotFound("conversation", sessionID)
}

func (m *memConvs) Touch(ctx context.Context, id, title string, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.ID == id {
			c.LastMessageAt = at
			if c.Title == "" {
				c.Title = title
			}
			return nil
		}
	}
	return appErr.NotFound("conversation", id)
}

func (m *memConvs) UpdateStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.ID == id {
			c.Status = status
			return nil
		}
	}
	return appErr.NotFound("conversation", id)
}

func (m *memConvs) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.convs)), nil
}

type memMessages struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (m *memMessages) Create(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.msgs = append(m.msgs, &cp)
	return nil
}

func (m *memMessages) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) SetFeedback(ctx context.Context, id, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			msg.Feedback = &feedback
			return nil
		}
	}
	return appErr.NotFound("message", id)
}

func (m *memMessages) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.msgs)), nil
}

// hashEmbedder maps each word onto one of dim buckets, so texts sharing
// words land close together.
type hashEmbedder struct {
	dim   int
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (e *hashEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail[text] {
		return nil, appErr.Transient("embed", errors.New("503 service unavailable"))
	}
	vec := make([]float32, e.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
		vec[int(h.Sum32())%e.dim]++
	}
	return vec, nil
}

func (e *hashEmbedder) ModelName() string { return "hash" }

type scriptedGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.GenerateStream(ctx, prompt, nil)
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if onDelta != nil {
		for _, part := range strings.SplitAfter(g.reply, " ") {
			if err := onDelta(part); err != nil {
				return "", err
			}
		}
	}
	return g.reply, nil
}

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, pageURL string, useRenderer bool) (*fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	body, ok := f.pages[pageURL]
	if !ok {
		return nil, &appErr.FetchError{URL: pageURL, Status: 404, Err: errors.New("not found")}
	}
	return &fetcher.Result{URL: pageURL, Body: body, ContentType: "text/html", StatusCode: 200, Rendered: useRenderer}, nil
}

package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

type qdrantConfig struct {
	URL     string `json:"url"`
	APIKey  string `json:"api_key"`
	Timeout int    `json:"timeout"`
}

// qdrantIndex talks to the Qdrant REST API. Point ids must be UUIDs, which
// VectorID guarantees.
type qdrantIndex struct {
	base       string
	apiKey     string
	collection string
	dim        int
	client     *http.Client
}

type qdrantPoint struct {
	ID      string            `json:"id"`
	Vector  []float32         `json:"vector,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Score   float32           `json:"score,omitempty"`
}

func init() {
	Register("qdrant", createQdrantIndex)
}

func createQdrantIndex(ctx context.Context, args Args) (Index, error) {
	cfg := &qdrantConfig{}
	if err := decodeConfig(args.Data, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if args.Name == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	q := &qdrantIndex{
		base:       strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: args.Name,
		dim:        args.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *qdrantIndex) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(q.collection) + suffix
}

func (q *qdrantIndex) ensureCollection(ctx context.Context) error {
	status, err := q.do(ctx, http.MethodGet, q.collectionPath(""), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	return q.createCollection(ctx)
}

func (q *qdrantIndex) createCollection(ctx context.Context) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.dim,
			"distance": "Cosine",
		},
	}
	_, err := q.do(ctx, http.MethodPut, q.collectionPath(""), body, nil)
	return err
}

func (q *qdrantIndex) Upsert(ctx context.Context, records []model.VectorRecord) error {
	if err := checkRecords(records, q.dim); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(records))
	for _, rec := range records {
		if _, err := uuid.Parse(rec.ID); err != nil {
			return appErr.Invalid("vector id", "qdrant ids must be uuids")
		}
		points = append(points, qdrantPoint{ID: rec.ID, Vector: rec.Values, Payload: rec.Metadata})
	}
	_, err := q.do(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), map[string]interface{}{"points": points}, nil)
	return err
}

func (q *qdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter model.Metadata) ([]model.VectorMatch, error) {
	if err := checkQuery(vector, topK, q.dim); err != nil {
		return nil, err
	}
	req := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]map[string]interface{}, 0, len(filter))
		for k, v := range filter {
			must = append(must, map[string]interface{}{
				"key":   k,
				"match": map[string]interface{}{"value": v},
			})
		}
		req["filter"] = map[string]interface{}{"must": must}
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	out := make([]model.VectorMatch, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, model.VectorMatch{ID: p.ID, Score: p.Score, Metadata: p.Payload})
	}
	return out, nil
}

func (q *qdrantIndex) Fetch(ctx context.Context, ids []string) ([]model.VectorRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	req := map[string]interface{}{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionPath("/points"), req, &resp); err != nil {
		return nil, err
	}
	out := make([]model.VectorRecord, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, model.VectorRecord{ID: p.ID, Values: p.Vector, Metadata: p.Payload})
	}
	return out, nil
}

func (q *qdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.do(ctx, http.MethodPost, q.collectionPath("/points/delete?wait=true"), map[string]interface{}{"points": ids}, nil)
	return err
}

// DeleteAll drops the collection and recreates it empty.
func (q *qdrantIndex) DeleteAll(ctx context.Context) error {
	status, err := q.do(ctx, http.MethodDelete, q.collectionPath(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	return q.createCollection(ctx)
}

func (q *qdrantIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	var resp struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodGet, q.collectionPath(""), nil, &resp); err != nil {
		return model.IndexStats{}, err
	}
	dim := resp.Result.Config.Params.Vectors.Size
	if dim == 0 {
		dim = q.dim
	}
	return model.IndexStats{Count: resp.Result.PointsCount, Dimension: dim}, nil
}

func (q *qdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

// do sends body as JSON and decodes the reply into out. It returns the HTTP
// status alongside any error so callers can special-case 404.
func (q *qdrantIndex) do(ctx context.Context, method, path string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, appErr.Transient("qdrant "+method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		err := fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			err = appErr.Transient("qdrant "+method, err)
		}
		return resp.StatusCode, err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

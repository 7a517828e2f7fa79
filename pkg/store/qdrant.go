package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
)

type QdrantConfig struct {
	URL       string
	APIKey    string
	Timeout   time.Duration
	BatchSize int
}

// QdrantStore is a minimal REST client for Qdrant.
type QdrantStore struct {
	config     QdrantConfig
	client     *http.Client
	collection string
	dim        int
}

func NewQdrantStore(config QdrantConfig) *QdrantStore {
	if config.URL == "" {
		config.URL = "http://localhost:6333"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	config.URL = strings.TrimRight(config.URL, "/")

	return &QdrantStore{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	if err := checkCollection(name, dim); err != nil {
		return err
	}
	if err := checkMetric(metric); err != nil {
		return err
	}

	var info qdrantCollectionInfo
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(name), nil, &info)
	switch {
	case status == http.StatusNotFound:
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dim,
				"distance": MetricCosine,
			},
		}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL(name), body, nil); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		existing := info.Result.Config.Params.Vectors.Size
		if existing != dim {
			return fmt.Errorf("collection %s: %w", name, apperr.Dimension(existing, dim))
		}
	}

	s.collection = name
	s.dim = dim
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, points []models.VectorPoint) error {
	if err := checkPoints(s.dim, points); err != nil {
		return err
	}

	for _, batch := range batches(points, s.config.BatchSize) {
		wire := make([]map[string]any, len(batch))
		for i, p := range batch {
			wire[i] = map[string]any{
				"id":      p.ID,
				"vector":  p.Vector,
				"payload": p.Payload,
			}
		}
		body := map[string]any{"points": wire}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL(s.collection)+"/points?wait=true", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]models.ScoredPoint, error) {
	if err := checkQuery(s.dim, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	req := map[string]any{
		"query":        vector,
		"limit":        k,
		"with_payload": true,
	}
	if len(filter) > 0 {
		req["filter"] = qdrantFilter(filter)
	}

	var resp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Score   float32        `json:"score"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL(s.collection)+"/points/query", req, &resp); err != nil {
		return nil, err
	}

	results := make([]models.ScoredPoint, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		results = append(results, models.ScoredPoint{
			ID:      fmt.Sprint(p.ID),
			Score:   p.Score,
			Payload: p.Payload,
		})
	}
	return rank(results, k), nil
}

func (s *QdrantStore) Close() {
	s.client.CloseIdleConnections()
}

func qdrantFilter(filter map[string]string) map[string]any {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": filter[k]},
		})
	}
	return map[string]any{"must": must}
}

func (s *QdrantStore) collectionURL(name string) string {
	return fmt.Sprintf("%s/collections/%s", s.config.URL, url.PathEscape(name))
}

// do sends a JSON request and decodes a 2xx response into out. The status code
// is returned even when the request fails.
func (s *QdrantStore) do(ctx context.Context, method, endpoint string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: encode request: %v", apperr.ErrValidation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("api-key", s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant %s %s: %v", apperr.ErrTransport, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%w: qdrant %s %s failed: %s %s", apperr.ErrTransport, method, endpoint, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode qdrant response: %v", apperr.ErrTransport, err)
		}
	}
	return resp.StatusCode, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
)

type ChromemConfig struct {
	// Path enables persistence; an empty path keeps the database in memory.
	Path     string
	Compress bool
}

// ChromemStore is an embedded vector store backed by chromem-go.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	dim        int
}

func NewChromemStore(config ChromemConfig) (*ChromemStore, error) {
	if config.Path == "" {
		return &ChromemStore{db: chromem.NewDB()}, nil
	}

	db, err := chromem.NewPersistentDB(config.Path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open chromem database: %v", apperr.ErrStoreIO, err)
	}
	return &ChromemStore{db: db}, nil
}

func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	if err := checkCollection(name, dim); err != nil {
		return err
	}
	if err := checkMetric(metric); err != nil {
		return err
	}

	metadata := map[string]string{
		"hnsw:space": "cosine",
		"dimension":  strconv.Itoa(dim),
	}
	collection, err := s.db.GetOrCreateCollection(name, metadata, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create collection: %v", apperr.ErrStoreIO, err)
	}

	// chromem does not record a dimension, so probe existing documents with a
	// unit vector of the requested size.
	if collection.Count() > 0 {
		probe := make([]float32, dim)
		probe[0] = 1
		if _, err := collection.QueryEmbedding(ctx, probe, 1, nil, nil); err != nil {
			return fmt.Errorf("collection %s: %w: %v", name, apperr.ErrDimensionMismatch, err)
		}
	}

	s.collection = collection
	s.dim = dim
	return nil
}

func (s *ChromemStore) Upsert(ctx context.Context, points []models.VectorPoint) error {
	if err := checkPoints(s.dim, points); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		metadata, content := flattenPayload(p.Payload)
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Metadata:  metadata,
			Embedding: append([]float32(nil), p.Vector...),
			Content:   content,
		})
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: failed to add documents: %v", apperr.ErrStoreIO, err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]models.ScoredPoint, error) {
	if err := checkQuery(s.dim, vector); err != nil {
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	// chromem picks its top n concurrently, so ties at the cut are
	// unordered. Fetch every candidate and let rank cut to k.
	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	results, err := s.collection.QueryEmbedding(ctx, append([]float32(nil), vector...), count, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query collection: %v", apperr.ErrStoreIO, err)
	}

	points := make([]models.ScoredPoint, 0, len(results))
	for _, r := range results {
		payload := make(map[string]any, len(r.Metadata)+1)
		for key, v := range r.Metadata {
			payload[key] = v
		}
		payload["text"] = r.Content
		points = append(points, models.ScoredPoint{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: payload,
		})
	}
	return rank(points, k), nil
}

func (s *ChromemStore) Close() {}

// flattenPayload converts a payload to chromem's string metadata. Text becomes
// the document content; non-string values are JSON encoded.
func flattenPayload(payload map[string]any) (map[string]string, string) {
	metadata := make(map[string]string, len(payload))
	content := ""
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			if k == "text" {
				content = val
				continue
			}
			metadata[k] = val
		case int:
			metadata[k] = strconv.Itoa(val)
		case float64:
			if val == math.Trunc(val) {
				metadata[k] = strconv.FormatInt(int64(val), 10)
			} else {
				metadata[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		default:
			data, err := json.Marshal(val)
			if err != nil {
				continue
			}
			metadata[k] = string(data)
		}
	}
	return metadata, content
}

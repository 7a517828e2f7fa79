package types

import (
	"context"

	"github.com/xhad/devrag/internal/models"
)

// Core interfaces
type DocumentStore interface {
	Load(ctx context.Context) ([]models.Document, error)
	// Save replaces the stored set with docs in a single atomic write.
	Save(ctx context.Context, docs []models.Document) error
	Close() error
}

type ChunkStore interface {
	Load(ctx context.Context) ([]models.Chunk, error)
	Save(ctx context.Context, chunks []models.Chunk) error
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dim int, metric string) error
	Upsert(ctx context.Context, points []models.VectorPoint) error
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]models.ScoredPoint, error)
	Close()
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/devrag/internal/apperr"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string // "ollama" or "gemini"
	Model     string
	Dimension int
	BaseURL   string // Ollama server URL
	APIKey    string // Gemini API key
	BatchSize int
}

// Embedder turns text into fixed-dimension vectors and rejects any vector
// whose length differs from the configured dimension.
type Embedder struct {
	config EmbedderConfig
	client embeddings.Embedder
	closer io.Closer
}

func NewEmbedderWithConfig(ctx context.Context, config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}

	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "all-minilm"
		}
		if config.Dimension == 0 {
			config.Dimension = 384
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}

		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
		}
		client, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(config.BatchSize))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		return &Embedder{config: config, client: client}, nil

	case "gemini":
		if config.Model == "" {
			config.Model = "text-embedding-004"
		}
		if config.Dimension == 0 {
			config.Dimension = 768
		}

		client, err := newGeminiEmbedder(ctx, config.APIKey, config.Model)
		if err != nil {
			return nil, err
		}
		return &Embedder{config: config, client: client, closer: client}, nil
	}

	return nil, fmt.Errorf("%w: unknown embedding provider %q", apperr.ErrValidation, config.Provider)
}

// NewEmbedder wraps an existing langchaingo embedder.
func NewEmbedder(client embeddings.Embedder, dimension int) *Embedder {
	return &Embedder{
		config: EmbedderConfig{Dimension: dimension},
		client: client,
	}
}

func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

// EmbedDocuments returns one vector per text, in input order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.client.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed documents: %v", apperr.ErrTransport, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", apperr.ErrTransport, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if err := e.checkDimension(v); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", apperr.ErrTransport, err)
	}
	if err := e.checkDimension(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (e *Embedder) Close() error {
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

func (e *Embedder) checkDimension(v []float32) error {
	if len(v) != e.config.Dimension {
		return apperr.Dimension(e.config.Dimension, len(v))
	}
	return nil
}

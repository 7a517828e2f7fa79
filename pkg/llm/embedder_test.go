package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/pkg/llm"
)

type fakeEmbeddings struct {
	dim     int
	short   bool
	dropOne bool
	err     error
}

func (f *fakeEmbeddings) vector(text string) []float32 {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r)
	}
	if f.short {
		return v[:f.dim-1]
	}
	return v
}

func (f *fakeEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, f.vector(t))
	}
	if f.dropOne {
		out = out[1:]
	}
	return out, nil
}

func (f *fakeEmbeddings) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(text), nil
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(context.Background(), llm.EmbedderConfig{
		Model:   "all-minilm",
		BaseURL: "http://localhost:11434",
	})
	require.NoError(t, err)
	assert.Equal(t, 384, emb.Dimension())

	_, err = llm.NewEmbedderWithConfig(context.Background(), llm.EmbedderConfig{Provider: "word2vec"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = llm.NewEmbedderWithConfig(context.Background(), llm.EmbedderConfig{Provider: "gemini"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEmbedDocuments(t *testing.T) {
	emb := llm.NewEmbedder(&fakeEmbeddings{dim: 8}, 8)

	vectors, err := emb.EmbedDocuments(context.Background(), []string{"first chunk", "second chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	for _, v := range vectors {
		assert.Len(t, v, 8)
	}

	query, err := emb.EmbedQuery(context.Background(), "first chunk")
	require.NoError(t, err)
	assert.Equal(t, vectors[0], query)

	empty, err := emb.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbedderErrors(t *testing.T) {
	ctx := context.Background()

	short := llm.NewEmbedder(&fakeEmbeddings{dim: 8, short: true}, 8)
	_, err := short.EmbedDocuments(ctx, []string{"text"})
	assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)
	_, err = short.EmbedQuery(ctx, "text")
	assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)

	dropped := llm.NewEmbedder(&fakeEmbeddings{dim: 8, dropOne: true}, 8)
	_, err = dropped.EmbedDocuments(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, apperr.ErrTransport)

	failing := llm.NewEmbedder(&fakeEmbeddings{dim: 8, err: errors.New("connection refused")}, 8)
	_, err = failing.EmbedQuery(ctx, "text")
	assert.ErrorIs(t, err, apperr.ErrTransport)
}

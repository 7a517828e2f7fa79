package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
	"github.com/xhad/devrag/internal/types"
)

func testPoint(articleID string, idx int, vector ...float32) models.VectorPoint {
	chunk := models.Chunk{
		Text:       "chunk text",
		ArticleID:  articleID,
		ChunkIndex: idx,
		Metadata: models.ChunkMetadata{
			Metadata: models.Metadata{Title: "Article " + articleID, URL: "https://dev.to/" + articleID, Tags: []string{"go"}},
			ChunkLen: 10,
		},
	}
	return models.VectorPoint{ID: PointID(articleID, idx), Vector: vector, Payload: chunk.Payload()}
}

// runVectorStoreContract checks the behaviour every backend must share.
// newStore must return a store with no existing collection called name.
func runVectorStoreContract(t *testing.T, newStore func(t *testing.T) types.VectorStore, name string) {
	ctx := context.Background()

	t.Run("empty collection", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.EnsureCollection(ctx, name, 3, MetricCosine))

		results, err := s.Query(ctx, []float32{1, 0, 0}, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("upsert and query", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.EnsureCollection(ctx, name, 3, MetricCosine))
		// idempotent
		require.NoError(t, s.EnsureCollection(ctx, name, 3, MetricCosine))

		points := []models.VectorPoint{
			testPoint("1", 0, 1, 0, 0),
			testPoint("1", 1, 0, 1, 0),
			testPoint("2", 0, 0.9, 0.1, 0),
		}
		require.NoError(t, s.Upsert(ctx, points))

		results, err := s.Query(ctx, []float32{1, 0, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, PointID("1", 0), results[0].ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		assert.Equal(t, PointID("2", 0), results[1].ID)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
		assert.Equal(t, "Article 1", results[0].Payload["title"])
		assert.Equal(t, "chunk text", results[0].Payload["text"])

		filtered, err := s.Query(ctx, []float32{1, 0, 0}, 5, map[string]string{"article_id": "2"})
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, PointID("2", 0), filtered[0].ID)
	})

	t.Run("re-upsert overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.EnsureCollection(ctx, name, 3, MetricCosine))

		require.NoError(t, s.Upsert(ctx, []models.VectorPoint{testPoint("7", 0, 1, 0, 0)}))
		require.NoError(t, s.Upsert(ctx, []models.VectorPoint{testPoint("7", 0, 0, 0, 1)}))

		results, err := s.Query(ctx, []float32{0, 0, 1}, 10, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.EnsureCollection(ctx, name, 3, MetricCosine))

		err := s.Upsert(ctx, []models.VectorPoint{testPoint("1", 0, 1, 0, 0), testPoint("1", 1, 1, 0)})
		assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)

		_, err = s.Query(ctx, []float32{1, 0}, 1, nil)
		assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)

		require.NoError(t, s.Upsert(ctx, []models.VectorPoint{testPoint("1", 0, 1, 0, 0)}))
		err = s.EnsureCollection(ctx, name, 4, MetricCosine)
		assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)
	})

	t.Run("unsupported metric", func(t *testing.T) {
		s := newStore(t)
		err := s.EnsureCollection(ctx, name, 3, "Euclid")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

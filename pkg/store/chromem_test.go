package store

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/devrag/internal/models"
	"github.com/xhad/devrag/internal/types"
)

func TestChromemStoreContract(t *testing.T) {
	runVectorStoreContract(t, func(t *testing.T) types.VectorStore {
		s, err := NewChromemStore(ChromemConfig{})
		require.NoError(t, err)
		return s
	}, "devto_articles")
}

func TestChromemTiesBreakByID(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore(ChromemConfig{})
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, "devto_articles", 3, MetricCosine))

	var points []models.VectorPoint
	var ids []string
	for i := 0; i < 40; i++ {
		p := testPoint(fmt.Sprint(i), 0, 1, 1, 0)
		points = append(points, p)
		ids = append(ids, p.ID)
	}
	require.NoError(t, s.Upsert(ctx, points))
	sort.Strings(ids)

	for i := 0; i < 20; i++ {
		results, err := s.Query(ctx, []float32{1, 1, 0}, 3, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		for j, r := range results {
			assert.Equal(t, ids[j], r.ID)
		}
	}
}

func TestChromemPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, "devto_articles", 3, MetricCosine))
	require.NoError(t, s.Upsert(ctx, []models.VectorPoint{testPoint("1", 0, 1, 0, 0)}))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, reopened.EnsureCollection(ctx, "devto_articles", 3, MetricCosine))

	results, err := reopened.Query(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, PointID("1", 0), results[0].ID)
}

func TestFlattenPayload(t *testing.T) {
	metadata, content := flattenPayload(map[string]any{
		"text":        "body",
		"title":       "Title",
		"chunk_index": 3,
		"reactions":   float64(12),
		"score":       0.5,
		"tags":        []string{"go", "rag"},
	})

	assert.Equal(t, "body", content)
	assert.Equal(t, map[string]string{
		"title":       "Title",
		"chunk_index": "3",
		"reactions":   "12",
		"score":       "0.5",
		"tags":        `["go","rag"]`,
	}, metadata)
}

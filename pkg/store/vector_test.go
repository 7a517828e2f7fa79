package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/xhad/devrag/internal/models"
)

func TestPointID(t *testing.T) {
	id := PointID("42", 3)

	assert.Equal(t, id, PointID("42", 3))
	assert.NotEqual(t, id, PointID("42", 4))
	assert.NotEqual(t, id, PointID("423", 0))

	parsed, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceDNS, []byte("42_3")).String(), id)
}

func TestRank(t *testing.T) {
	points := []models.ScoredPoint{
		{ID: "c", Score: 0.5},
		{ID: "b", Score: 0.9},
		{ID: "a", Score: 0.5},
		{ID: "d", Score: 0.1},
	}

	ranked := rank(points, 3)

	assert.Equal(t, []string{"b", "a", "c"}, ids(ranked))
}

func TestBatches(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, batches([]int{1, 2, 3, 4, 5}, 2))
	assert.Empty(t, batches([]int{}, 2))
	assert.Equal(t, [][]int{{1, 2}}, batches([]int{1, 2}, 0))
}

func ids(points []models.ScoredPoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.ID
	}
	return out
}

package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
)

// MetricCosine is the only distance metric collections are created with.
const MetricCosine = "Cosine"

// PointID derives a stable point id from an article id and chunk position,
// so re-ingesting the same chunk overwrites its point.
func PointID(articleID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s_%d", articleID, chunkIndex))).String()
}

func checkMetric(metric string) error {
	if !strings.EqualFold(metric, MetricCosine) {
		return fmt.Errorf("%w: unsupported metric %q", apperr.ErrValidation, metric)
	}
	return nil
}

func checkCollection(name string, dim int) error {
	if name == "" {
		return fmt.Errorf("%w: collection name is required", apperr.ErrValidation)
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", apperr.ErrValidation)
	}
	return nil
}

// checkPoints rejects the whole batch if any vector has the wrong length.
func checkPoints(dim int, points []models.VectorPoint) error {
	if dim == 0 {
		return fmt.Errorf("%w: collection not initialized", apperr.ErrValidation)
	}
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("point %s: %w", p.ID, apperr.Dimension(dim, len(p.Vector)))
		}
	}
	return nil
}

func checkQuery(dim int, vector []float32) error {
	if dim == 0 {
		return fmt.Errorf("%w: collection not initialized", apperr.ErrValidation)
	}
	if len(vector) != dim {
		return apperr.Dimension(dim, len(vector))
	}
	return nil
}

// rank orders results by score descending, breaking ties by id, and keeps k.
func rank(points []models.ScoredPoint, k int) []models.ScoredPoint {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Score != points[j].Score {
			return points[i].Score > points[j].Score
		}
		return points[i].ID < points[j].ID
	})
	if len(points) > k {
		points = points[:k]
	}
	return points
}

func batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

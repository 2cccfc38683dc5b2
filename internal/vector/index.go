// Package vector is the nearest-neighbour index behind the memory layer.
// Backends: Qdrant over gRPC, rows in the application database, or
// an in-process map.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

type Metric string

const (
	MetricCosine Metric = "Cosine"
)

var (
	ErrCollectionNotFound = errors.New("vector collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type CollectionInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
	Points    int    `json:"points"`
}

// Index is the contract every backend implements. A collection's dimension
// is fixed at creation; writes or searches with another length fail with
// ErrDimensionMismatch.
type Index interface {
	Backend() string
	CollectionExists(ctx context.Context, name string) (bool, error)
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	CreateCollection(ctx context.Context, name string, dimension int, metric Metric) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points ...Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error)
}

func checkDimension(want int, vectors ...[]float32) error {
	for _, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%w: collection expects %d, got %d", ErrDimensionMismatch, want, len(v))
		}
	}
	return nil
}

// CosineSimilarity returns 0 for mismatched lengths or zero-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topK sorts by descending score and truncates to limit.
func topK(points []ScoredPoint, limit int) []ScoredPoint {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Score > points[j].Score })
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points
}

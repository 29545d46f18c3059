// Package index provides nearest-neighbor similarity indexes over embedded documents.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
	ErrEmptyVector       = errors.New("index: empty vector")
	ErrUnknownMetric     = errors.New("index: unknown metric")
)

// Hit is one search result. Higher Score means more similar for every Metric.
type Hit struct {
	ID    string
	Score float64
}

// Index stores (id, vector) pairs and answers top-k similarity queries.
type Index interface {
	Add(ctx context.Context, id string, vec []float32) error
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
	Len() int
}

// Closer is implemented by indexes holding external resources (e.g. a Qdrant collection).
type Closer interface {
	Close(ctx context.Context) error
}

// Factory creates a fresh, empty index. Evaluators call it once per run.
type Factory func(ctx context.Context) (Index, error)

// Metric is the similarity function an index ranks by. It must match the metric the
// embedding model was trained for; ranking a cosine model by raw dot product (or the
// reverse) silently degrades results.
type Metric string

const (
	Cosine     Metric = "cosine"
	DotProduct Metric = "dot"
	Euclidean  Metric = "euclidean"
)

// ParseMetric accepts the names used in config files ("cosine", "cos_sim", "dot", "dot_score", "euclidean", "l2").
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine", "cos_sim":
		return Cosine, nil
	case "dot", "dot_score", "dot_product":
		return DotProduct, nil
	case "euclidean", "l2":
		return Euclidean, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Score returns the similarity of a and b (assumed same length).
// Euclidean similarity is the negated distance.
func (m Metric) Score(a, b []float32) float64 {
	switch m {
	case DotProduct:
		return dot(a, b)
	case Euclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return -math.Sqrt(sum)
	default:
		return cosine(a, b)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// cosine returns 0 when either vector has zero norm.
func cosine(a, b []float32) float64 {
	var d, normA, normB float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return d / (math.Sqrt(normA) * math.Sqrt(normB))
}

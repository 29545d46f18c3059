package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an exact, brute-force index. Search scores every stored vector, so it is
// linear in the corpus size; fine for evaluation sets of a few thousand documents.
// Equal scores keep insertion order, which makes results deterministic.
type Memory struct {
	metric Metric
	mu     sync.RWMutex
	dim    int
	pos    map[string]int
	ids    []string
	vecs   [][]float32
}

// NewMemory creates an empty in-memory index ranking by metric.
func NewMemory(metric Metric) *Memory {
	if metric == "" {
		metric = Cosine
	}
	return &Memory{metric: metric, pos: make(map[string]int)}
}

// MemoryFactory returns a Factory producing Memory indexes.
func MemoryFactory(metric Metric) Factory {
	return func(context.Context) (Index, error) {
		return NewMemory(metric), nil
	}
}

// Metric returns the metric the index ranks by.
func (m *Memory) Metric() Metric { return m.metric }

// Add implements Index. The first vector fixes the dimension. Re-adding an id
// replaces its vector.
func (m *Memory) Add(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: id %q", ErrEmptyVector, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim == 0 {
		m.dim = len(vec)
	} else if len(vec) != m.dim {
		return fmt.Errorf("%w: id %q has %d, want %d", ErrDimensionMismatch, id, len(vec), m.dim)
	}
	cp := append([]float32(nil), vec...)
	if i, ok := m.pos[id]; ok {
		m.vecs[i] = cp
		return nil
	}
	m.pos[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vecs = append(m.vecs, cp)
	return nil
}

// Search implements Index. It returns at most min(k, Len()) hits, best first.
func (m *Memory) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vec) == 0 {
		return nil, ErrEmptyVector
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dim != 0 && len(vec) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vec), m.dim)
	}
	hits := make([]Hit, len(m.ids))
	for i, v := range m.vecs {
		hits[i] = Hit{ID: m.ids[i], Score: m.metric.Score(vec, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Len implements Index.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

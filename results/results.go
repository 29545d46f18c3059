// Package results records hit-rate summaries of evaluation runs and builds the
// comparison tables used to judge a fine-tuned model against its base.
package results

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/klejdi94/embedtune/evaluator"
)

// Summary is the aggregate hit rate of one model variant in one evaluation run.
type Summary struct {
	RunName string    `json:"run_name"`
	Variant string    `json:"variant"`
	Model   string    `json:"model"`
	TopK    int       `json:"top_k"`
	Queries int       `json:"queries"`
	Hits    int       `json:"hits"`
	HitRate float64   `json:"hit_rate"`
	At      time.Time `json:"at"`
}

// FromVariant builds the summary of one variant of a suite report.
func FromVariant(runName string, topK int, v evaluator.VariantReport) Summary {
	return Summary{
		RunName: runName,
		Variant: v.Variant,
		Model:   v.Model,
		TopK:    topK,
		Queries: v.Total,
		Hits:    v.Hits,
		HitRate: v.HitRate,
	}
}

// FromReport builds one summary per variant of a suite report.
func FromReport(r *evaluator.Report) []Summary {
	out := make([]Summary, 0, len(r.Variants))
	for _, v := range r.Variants {
		out = append(out, FromVariant(r.Suite, r.TopK, v))
	}
	return out
}

// Store records and queries summaries.
type Store interface {
	Record(ctx context.Context, s Summary) error
	Query(ctx context.Context, q Query) ([]Summary, error)
}

// Query filters summaries. Results are newest first.
type Query struct {
	RunName string
	Variant string
	Model   string
	From    time.Time
	To      time.Time
	Limit   int
}

const defaultLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}

func (q Query) match(s Summary) bool {
	if q.RunName != "" && s.RunName != q.RunName {
		return false
	}
	if q.Variant != "" && s.Variant != q.Variant {
		return false
	}
	if q.Model != "" && s.Model != q.Model {
		return false
	}
	if !q.From.IsZero() && s.At.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && s.At.After(q.To) {
		return false
	}
	return true
}

// Latest keeps the newest summary per (run, variant), ordered by run then variant.
func Latest(summaries []Summary) []Summary {
	type key struct{ run, variant string }
	latest := make(map[key]Summary)
	for _, s := range summaries {
		k := key{s.RunName, s.Variant}
		if cur, ok := latest[k]; !ok || s.At.After(cur.At) {
			latest[k] = s
		}
	}
	out := make([]Summary, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunName != out[j].RunName {
			return out[i].RunName < out[j].RunName
		}
		return out[i].Variant < out[j].Variant
	})
	return out
}

// MemoryStore is an in-memory Store that keeps at most max summaries (0 = unbounded).
type MemoryStore struct {
	mu        sync.RWMutex
	max       int
	summaries []Summary
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max}
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, s Summary) error {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	if m.max > 0 && len(m.summaries) > m.max {
		m.summaries = m.summaries[len(m.summaries)-m.max:]
	}
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filter(m.summaries, q), nil
}

func filter(summaries []Summary, q Query) []Summary {
	out := make([]Summary, 0)
	for i := len(summaries) - 1; i >= 0; i-- {
		if q.match(summaries[i]) {
			out = append(out, summaries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out
}

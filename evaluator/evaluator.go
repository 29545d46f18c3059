// Package evaluator measures how well an embedding model retrieves the labeled
// relevant documents of a dataset.
package evaluator

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/embedding"
	"github.com/klejdi94/embedtune/index"
)

// DefaultTopK is the number of documents retrieved per query by EvaluateTopHit.
const DefaultTopK = 5

// corpusBatch is the batch size used when the embedder supports batching.
const corpusBatch = 64

// Result is the outcome of one query: whether its expected document was retrieved.
type Result struct {
	QueryID              string   `json:"query_id"`
	ExpectedDocumentID   string   `json:"expected_document_id"`
	RetrievedDocumentIDs []string `json:"retrieved_document_ids"`
	IsHit                bool     `json:"is_hit"`
}

// HitRateOption configures EvaluateTopHit.
type HitRateOption func(*hitRateConfig)

type hitRateConfig struct {
	topK     int
	newIndex index.Factory
}

// WithTopK sets the number of documents retrieved per query (default 5).
func WithTopK(k int) HitRateOption {
	return func(c *hitRateConfig) { c.topK = k }
}

// WithIndex sets the index implementation. The default is an exact in-memory cosine index.
func WithIndex(f index.Factory) HitRateOption {
	return func(c *hitRateConfig) { c.newIndex = f }
}

// WithMetric uses an exact in-memory index ranking by m.
func WithMetric(m index.Metric) HitRateOption {
	return func(c *hitRateConfig) { c.newIndex = index.MemoryFactory(m) }
}

// EvaluateTopHit embeds the corpus into a fresh index, retrieves the top-k documents for
// every query, and records whether the query's first relevant document is among them.
//
// Results follow ds.QueryOrder (lexical id order when unset), one per query. Each result holds min(k, corpus size)
// retrieved ids. Any failure (empty corpus, a query without relevant docs, an embedding
// or index error) aborts the run and no results are returned.
func EvaluateTopHit(ctx context.Context, ds *core.Dataset, emb embedding.Embedder, opts ...HitRateOption) ([]Result, error) {
	cfg := hitRateConfig{topK: DefaultTopK, newIndex: index.MemoryFactory(index.Cosine)}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.topK <= 0 {
		return nil, fmt.Errorf("evaluator: %w (got %d)", core.ErrInvalidTopK, cfg.topK)
	}
	if ds == nil || len(ds.Corpus) == 0 {
		return nil, fmt.Errorf("evaluator: %w", core.ErrEmptyCorpus)
	}
	ds, err := ds.Normalized()
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("evaluating top-k hit rate",
		"corpus", len(ds.Corpus), "queries", len(ds.QueryOrder), "top_k", cfg.topK)

	idx, release, err := buildIndex(ctx, ds, emb, cfg.newIndex)
	if err != nil {
		return nil, err
	}
	defer release()

	results := make([]Result, 0, len(ds.QueryOrder))
	for _, qid := range ds.QueryOrder {
		expected, err := ds.Expected(qid)
		if err != nil {
			return nil, fmt.Errorf("evaluator: %w", err)
		}
		retrieved, err := retrieve(ctx, idx, emb, qid, ds.Queries[qid], cfg.topK)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			QueryID:              qid,
			ExpectedDocumentID:   expected,
			RetrievedDocumentIDs: retrieved,
			IsHit:                contains(retrieved, expected),
		})
	}
	return results, nil
}

// HitRate is the fraction of results that are hits (0 when there are none).
func HitRate(results []Result) float64 {
	if len(results) == 0 {
		return 0
	}
	hits := 0
	for _, r := range results {
		if r.IsHit {
			hits++
		}
	}
	return float64(hits) / float64(len(results))
}

// buildIndex embeds every corpus document in CorpusOrder into a new index.
// release drops index resources (e.g. a Qdrant collection).
func buildIndex(ctx context.Context, ds *core.Dataset, emb embedding.Embedder, newIndex index.Factory) (index.Index, func(), error) {
	if len(ds.Corpus) == 0 {
		return nil, nil, fmt.Errorf("evaluator: %w", core.ErrEmptyCorpus)
	}
	idx, err := newIndex(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluator: create index: %w", err)
	}
	release := func() {
		if c, ok := idx.(index.Closer); ok {
			if err := c.Close(context.WithoutCancel(ctx)); err != nil {
				logr.FromContextOrDiscard(ctx).Error(err, "release index")
			}
		}
	}
	vecs, err := embedAll(ctx, emb, ds.CorpusOrder, ds.Corpus)
	if err != nil {
		release()
		return nil, nil, err
	}
	for i, id := range ds.CorpusOrder {
		if err := idx.Add(ctx, id, vecs[i]); err != nil {
			release()
			return nil, nil, fmt.Errorf("evaluator: index document %q: %w", id, err)
		}
	}
	return idx, release, nil
}

func embedAll(ctx context.Context, emb embedding.Embedder, order []string, texts map[string]string) ([][]float32, error) {
	out := make([][]float32, 0, len(order))
	if be, ok := emb.(embedding.BatchEmbedder); ok {
		for start := 0; start < len(order); start += corpusBatch {
			end := min(start+corpusBatch, len(order))
			batch := make([]string, 0, end-start)
			for _, id := range order[start:end] {
				batch = append(batch, texts[id])
			}
			vecs, err := be.EmbedBatch(ctx, batch)
			if err != nil {
				return nil, fmt.Errorf("evaluator: embed documents %d-%d: %w", start, end, err)
			}
			if len(vecs) != len(batch) {
				return nil, fmt.Errorf("evaluator: embed documents %d-%d: got %d vectors", start, end, len(vecs))
			}
			out = append(out, vecs...)
		}
		return out, nil
	}
	for _, id := range order {
		vec, err := emb.Embed(ctx, texts[id])
		if err != nil {
			return nil, fmt.Errorf("evaluator: embed document %q: %w", id, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func retrieve(ctx context.Context, idx index.Index, emb embedding.Embedder, qid, text string, k int) ([]string, error) {
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("evaluator: embed query %q: %w", qid, err)
	}
	hits, err := idx.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("evaluator: search query %q: %w", qid, err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids, nil
}

func contains(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

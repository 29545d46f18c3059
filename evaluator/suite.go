package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/embedding"
	"github.com/klejdi94/embedtune/index"
)

// Variant is one model under comparison (e.g. the base model and its fine-tuned copy).
type Variant struct {
	Name     string
	Model    string
	Embedder embedding.Embedder
}

// Suite runs the hit-rate evaluation for several model variants over one dataset.
type Suite struct {
	name     string
	dataset  *core.Dataset
	variants []Variant
	topK     int
	newIndex index.Factory
}

// NewSuite creates a suite with the given name over ds.
func NewSuite(name string, ds *core.Dataset) *Suite {
	return &Suite{name: name, dataset: ds, topK: DefaultTopK}
}

// WithVariant adds a model variant.
func (s *Suite) WithVariant(name, model string, emb embedding.Embedder) *Suite {
	s.variants = append(s.variants, Variant{Name: name, Model: model, Embedder: emb})
	return s
}

// WithTopK sets k for every variant.
func (s *Suite) WithTopK(k int) *Suite {
	s.topK = k
	return s
}

// WithIndex sets the index implementation for every variant.
func (s *Suite) WithIndex(f index.Factory) *Suite {
	s.newIndex = f
	return s
}

// Report holds the results of running a suite.
type Report struct {
	Suite    string
	TopK     int
	Variants []VariantReport
	Duration time.Duration
}

// VariantReport is the hit-rate outcome for one variant.
type VariantReport struct {
	Variant  string
	Model    string
	Results  []Result
	Hits     int
	Total    int
	HitRate  float64
	Duration time.Duration
}

// Variant returns the report for name.
func (r *Report) Variant(name string) (VariantReport, bool) {
	for _, v := range r.Variants {
		if v.Variant == name {
			return v, true
		}
	}
	return VariantReport{}, false
}

// Run evaluates every variant in order. The first failure aborts the suite.
func (s *Suite) Run(ctx context.Context) (*Report, error) {
	if len(s.variants) == 0 {
		return nil, fmt.Errorf("evaluator: suite %s has no variants", s.name)
	}
	start := time.Now()
	report := &Report{Suite: s.name, TopK: s.topK, Variants: make([]VariantReport, 0, len(s.variants))}
	for _, v := range s.variants {
		vr, err := s.runVariant(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("evaluator: variant %s: %w", v.Name, err)
		}
		report.Variants = append(report.Variants, vr)
	}
	report.Duration = time.Since(start)
	return report, nil
}

func (s *Suite) runVariant(ctx context.Context, v Variant) (VariantReport, error) {
	opts := []HitRateOption{WithTopK(s.topK)}
	if s.newIndex != nil {
		opts = append(opts, WithIndex(s.newIndex))
	}
	start := time.Now()
	results, err := EvaluateTopHit(ctx, s.dataset, v.Embedder, opts...)
	if err != nil {
		return VariantReport{}, err
	}
	out := VariantReport{
		Variant:  v.Name,
		Model:    v.Model,
		Results:  results,
		Total:    len(results),
		HitRate:  HitRate(results),
		Duration: time.Since(start),
	}
	for _, r := range results {
		if r.IsHit {
			out.Hits++
		}
	}
	return out, nil
}

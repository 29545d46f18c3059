package embedtune

import (
	"context"
	"fmt"
	"time"

	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/embedding"
	"github.com/klejdi94/embedtune/evaluator"
	"github.com/klejdi94/embedtune/index"
	"github.com/klejdi94/embedtune/results"
)

// Pipeline evaluates model variants on one dataset, records their hit rates and
// optionally runs the IR evaluator for each variant.
type Pipeline struct {
	session  *Session
	dataset  *core.Dataset
	variants []evaluator.Variant
	runName  string
	topK     int
	irDir    string
	newIndex index.Factory
}

// NewPipeline creates a pipeline using the session's configuration.
func NewPipeline(s *Session) *Pipeline {
	ev := s.Config.Evaluation
	return &Pipeline{session: s, runName: ev.RunName, topK: ev.TopK}
}

// WithDataset sets the dataset. The default is the session's validation dataset.
func (p *Pipeline) WithDataset(ds *core.Dataset) *Pipeline {
	p.dataset = ds
	return p
}

// WithVariant adds a model variant to compare.
func (p *Pipeline) WithVariant(name, model string, emb embedding.Embedder) *Pipeline {
	p.variants = append(p.variants, evaluator.Variant{Name: name, Model: model, Embedder: emb})
	return p
}

// WithRunName names the run in recorded summaries.
func (p *Pipeline) WithRunName(name string) *Pipeline {
	p.runName = name
	return p
}

// WithTopK sets the number of retrieved documents per query.
func (p *Pipeline) WithTopK(k int) *Pipeline {
	p.topK = k
	return p
}

// WithIRDir enables the IR evaluator, writing one results file per variant into dir.
func (p *Pipeline) WithIRDir(dir string) *Pipeline {
	p.irDir = dir
	return p
}

// WithIndex overrides the session's index.
func (p *Pipeline) WithIndex(f index.Factory) *Pipeline {
	p.newIndex = f
	return p
}

// Report is the outcome of a pipeline run.
type Report struct {
	Suite        *evaluator.Report
	HitRates     []results.Summary
	HitRateTable *results.Table
	// IR is nil unless WithIRDir was set.
	IR        *results.Table
	IRReports map[string]*evaluator.IRReport
	Duration  time.Duration
}

// Run evaluates every variant. Any failure aborts the run.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	s := p.session
	ctx = s.context(ctx)
	start := time.Now()
	runs, err := p.irRunNames()
	if err != nil {
		return nil, err
	}

	ds := p.dataset
	if ds == nil {
		if ds, err = s.LoadDataset(); err != nil {
			return nil, err
		}
	}
	newIndex := p.newIndex
	if newIndex == nil {
		if newIndex, err = s.IndexFactory(); err != nil {
			return nil, fmt.Errorf("embedtune: index: %w", err)
		}
	}

	suite := evaluator.NewSuite(p.runName, ds).WithTopK(p.topK).WithIndex(newIndex)
	for _, v := range p.variants {
		suite.WithVariant(v.Name, v.Model, v.Embedder)
	}
	suiteReport, err := suite.Run(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Suite: suiteReport, HitRates: results.FromReport(suiteReport)}
	now := time.Now()
	for i := range report.HitRates {
		report.HitRates[i].At = now
		sum := report.HitRates[i]
		s.Logger.Info("hit rate", "run", sum.RunName, "variant", sum.Variant, "model", sum.Model,
			"top_k", sum.TopK, "hits", sum.Hits, "queries", sum.Queries, "hit_rate", sum.HitRate)
		if s.Results != nil {
			if err := s.Results.Record(ctx, sum); err != nil {
				return nil, fmt.Errorf("embedtune: record %s: %w", sum.Variant, err)
			}
		}
	}
	report.HitRateTable = results.HitRateTable(report.HitRates)

	if p.irDir != "" {
		metric, err := index.ParseMetric(s.Config.Evaluation.Metric)
		if err != nil {
			return nil, err
		}
		report.IRReports = make(map[string]*evaluator.IRReport, len(p.variants))
		for _, v := range p.variants {
			ir := evaluator.NewInformationRetrieval(ds, runs[v.Name])
			ir.Metric = metric
			ir.Index = newIndex
			r, err := ir.Evaluate(ctx, v.Embedder, p.irDir)
			if err != nil {
				return nil, fmt.Errorf("embedtune: ir evaluation %s: %w", v.Name, err)
			}
			report.IRReports[v.Name] = r
		}
		if report.IR, err = results.LoadIRTables(p.irDir, runs); err != nil {
			return nil, err
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}

// irRunNames maps each variant to its IR results name. Variant names must be
// unique, and so must their results names, or two variants would share a file.
func (p *Pipeline) irRunNames() (map[string]string, error) {
	runs := make(map[string]string, len(p.variants))
	owner := make(map[string]string, len(p.variants))
	for _, v := range p.variants {
		if _, dup := runs[v.Name]; dup {
			return nil, fmt.Errorf("embedtune: duplicate variant %q", v.Name)
		}
		name := evaluator.RunName(v.Name)
		if prev, ok := owner[name]; ok && p.irDir != "" {
			return nil, fmt.Errorf("embedtune: variants %q and %q share results name %q", prev, v.Name, name)
		}
		owner[name] = v.Name
		runs[v.Name] = name
	}
	return runs, nil
}

// Run fine-tunes the base model, fetches the artifact and compares the base and
// fine-tuned variants.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	job, err := s.Train(ctx)
	if err != nil {
		return nil, err
	}
	modelDir, err := s.FetchModel(ctx, job.ArtifactURI)
	if err != nil {
		return nil, err
	}
	ec := s.Config.Embedding
	base, err := s.Embedder(embedding.Spec{Model: s.Config.Training.BaseModel})
	if err != nil {
		return nil, err
	}
	tunedModel := ec.FineTunedModel
	if tunedModel == "" {
		tunedModel = modelDir
	}
	tuned, err := s.Embedder(embedding.Spec{Model: tunedModel, BaseURL: ec.FineTunedBaseURL})
	if err != nil {
		return nil, err
	}
	return NewPipeline(s).
		WithVariant(BaseVariant, s.Config.Training.BaseModel, base).
		WithVariant(FineTunedVariant, tunedModel, tuned).
		WithIRDir(s.Config.Evaluation.OutputDir).
		Run(ctx)
}

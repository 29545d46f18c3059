package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/klejdi94/embedtune"
	"github.com/klejdi94/embedtune/embedding"
)

func evaluateCmd(a *app) *cobra.Command {
	var (
		modelDir string
		topK     int
		runName  string
		ir       bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compare the hit rate of the base and fine-tuned models",
		Long: `Embed the validation corpus with both models, retrieve the top-k documents
for every query and report the share of queries whose expected document was
retrieved. With --ir the information-retrieval metrics are also computed and
written to evaluation.output_dir.

Examples:
  embedtune evaluate --model-dir model/finetuned
  embedtune evaluate --model-dir model/finetuned --top-k 10 --ir --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ec := a.cfg.Embedding
			if modelDir == "" && ec.FineTunedModel == "" {
				return errors.New("--model-dir or embedding.finetuned_model is required")
			}
			base, err := a.session.Embedder(embedding.Spec{Model: a.cfg.Training.BaseModel})
			if err != nil {
				return err
			}
			tunedSpec := embedding.Spec{Model: ec.FineTunedModel, Path: modelDir, BaseURL: ec.FineTunedBaseURL}
			tuned, err := a.session.Embedder(tunedSpec)
			if err != nil {
				return err
			}

			p := embedtune.NewPipeline(a.session).
				WithVariant(embedtune.BaseVariant, a.cfg.Training.BaseModel, base).
				WithVariant(embedtune.FineTunedVariant, tunedSpec.ModelName(), tuned)
			if topK > 0 {
				p.WithTopK(topK)
			}
			if runName != "" {
				p.WithRunName(runName)
			}
			if ir {
				p.WithIRDir(a.cfg.Evaluation.OutputDir)
			}
			report, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, asJSON)
		},
	}
	cmd.Flags().StringVarP(&modelDir, "model-dir", "m", "", "unpacked fine-tuned model directory")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "documents retrieved per query (default evaluation.top_k)")
	cmd.Flags().StringVar(&runName, "run-name", "", "name recorded with the results (default evaluation.run_name)")
	cmd.Flags().BoolVar(&ir, "ir", false, "also run the information-retrieval evaluator")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printReport(w io.Writer, report *embedtune.Report, asJSON bool) error {
	if asJSON {
		out := struct {
			HitRates any    `json:"hit_rates"`
			IR       any    `json:"ir,omitempty"`
			Duration string `json:"duration"`
		}{HitRates: report.HitRates, Duration: report.Duration.String()}
		if report.IR != nil {
			out.IR = report.IR
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if err := report.HitRateTable.Render(w); err != nil {
		return err
	}
	if report.IR != nil {
		fmt.Fprintln(w)
		return report.IR.Render(w)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klejdi94/embedtune"
	"github.com/klejdi94/embedtune/evaluator"
	"github.com/klejdi94/embedtune/results"
)

func compareCmd(a *app) *cobra.Command {
	var (
		runName string
		irDir   string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Show the latest recorded hit rates side by side",
		Long: `Read hit-rate summaries from the configured results store and print the
newest one per run and variant. With --ir-dir, the information-retrieval
results files of the base and fine-tuned runs are merged into one table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			summaries, err := a.session.Results.Query(cmd.Context(), results.Query{RunName: runName, Limit: limit})
			if err != nil {
				return err
			}
			if len(summaries) > 0 {
				if err := results.HitRateTable(results.Latest(summaries)).Render(w); err != nil {
					return err
				}
			} else if irDir == "" {
				fmt.Fprintln(w, "no results recorded")
				return nil
			}
			if irDir == "" {
				return nil
			}
			table, err := results.LoadIRTables(irDir, map[string]string{
				embedtune.BaseVariant:      evaluator.RunName(embedtune.BaseVariant),
				embedtune.FineTunedVariant: evaluator.RunName(embedtune.FineTunedVariant),
			})
			if err != nil {
				return err
			}
			if len(summaries) > 0 {
				fmt.Fprintln(w)
			}
			return table.Render(w)
		},
	}
	cmd.Flags().StringVar(&runName, "run-name", "", "only show this run")
	cmd.Flags().StringVar(&irDir, "ir-dir", "", "directory holding information-retrieval results files")
	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "maximum summaries read from the store")
	return cmd
}

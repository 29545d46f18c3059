package main

import (
	"github.com/spf13/cobra"
)

func runCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train, fetch the artifact and evaluate both models",
		Long: `Run the whole workflow: submit the fine-tuning job, wait for it, unpack the
resulting model and compare the base and fine-tuned hit rates. The
information-retrieval results are written to evaluation.output_dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.kubernetesTrainer()
			if err != nil {
				return err
			}
			a.session.Trainer = k
			report, err := a.session.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

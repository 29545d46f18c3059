package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klejdi94/embedtune/training"
)

func trainCmd(a *app) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Submit the fine-tuning job and wait for its artifact",
		Long: `Submit a TrainingJob to the cluster. The training operator runs it as a
batch Job; train waits until it finishes and prints the artifact URI.

Examples:
  embedtune train -c embedtune.yaml
  EMBEDTUNE_TRAINING_EPOCHS=5 embedtune train --no-wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.kubernetesTrainer()
			if err != nil {
				return err
			}
			if noWait {
				job, err := k.Submit(cmd.Context(), a.cfg.Training.Request())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), job.Name)
				return nil
			}
			a.session.Trainer = k
			job, err := a.session.Train(cmd.Context())
			if err != nil {
				return err
			}
			return printJob(cmd, job)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the job name and return without waiting")
	return cmd
}

func printJob(cmd *cobra.Command, job *training.Job) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", job.Name, job.Phase, job.ArtifactURI)
	return err
}

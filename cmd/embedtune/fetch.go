package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fetchCmd(a *app) *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "fetch [uri]",
		Short: "Download and unpack a model archive",
		Long: `Download the model archive at uri (s3://bucket/key, file:///path or a plain
path) and unpack it into artifacts.dest_dir. Without uri, artifacts.model_uri
is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := ""
			if len(args) == 1 {
				uri = args[0]
			}
			if dest != "" {
				a.cfg.Artifacts.DestDir = dest
			}
			dir, err := a.session.FetchModel(cmd.Context(), uri)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "unpack into this directory instead of artifacts.dest_dir")
	return cmd
}

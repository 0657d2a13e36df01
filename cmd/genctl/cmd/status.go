package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Check a job once",
		Long:  `Check a job once. A finished job's output is saved to --out.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.newPoller().Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.finish(cmd.OutOrStdout(), result, outDir)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for the downloaded output")
	return cmd
}

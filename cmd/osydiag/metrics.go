package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/osydiag/internal/app"
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize recorded request metrics",
	}

	var input string
	summary := &cobra.Command{
		Use:     "summary",
		Short:   "Print RTT and result statistics of a metrics CSV file",
		Example: `  osydiag read 0.0.0 --metrics-file run.csv && osydiag metrics summary --input run.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if input == "" {
				return missingFlagError(cmd, "--input")
			}
			return app.RunMetricsSummary(input, cmd.OutOrStdout())
		},
	}
	summary.Flags().StringVar(&input, "input", "", "Metrics CSV file (required)")
	cmd.AddCommand(summary)
	return cmd
}

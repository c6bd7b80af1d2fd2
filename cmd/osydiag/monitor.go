package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/osydiag/internal/app"
)

func newMonitorCmd() *cobra.Command {
	flags := &sessionFlags{}
	opts := app.MonitorOptions{}
	var rail uint8
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Subscribe to event-driven element transmissions",
		Long: `Subscribe to elements on one of the node's three event rails and print
every pushed value until --duration elapses or Ctrl+C is pressed.

Rail intervals come from connection.rail_rates_ms in the configuration
(slow, medium, fast). Cyclic elements are pushed every rail interval;
change-driven elements only when they move by at least --threshold.`,
		Example: `  # Push SupplyVoltage on the fast rail for ten seconds
  osydiag monitor --cyclic DiagData.Measurements.SupplyVoltage --rail 2 --duration 10s

  # Push Temperature whenever it changes by 2 or more
  osydiag monitor --on-change DiagData.Measurements.Temperature --threshold 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(opts.Cyclic)+len(opts.Changes) == 0 {
				return missingFlagError(cmd, "--cyclic or --on-change")
			}
			opts.Session = flags.options(cmd)
			opts.Rail = rail
			return app.RunMonitor(cmd.Context(), opts)
		},
	}
	registerSessionFlags(cmd, flags)
	cmd.Flags().StringSliceVar(&opts.Cyclic, "cyclic", nil, "Element pushed every rail interval (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Changes, "on-change", nil, "Element pushed on change (repeatable)")
	cmd.Flags().Uint32Var(&opts.Threshold, "threshold", 1, "Minimum change for --on-change elements")
	cmd.Flags().Uint8Var(&rail, "rail", 2, "Event rail: 0=slow 1=medium 2=fast")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "Stop after this long (default: until interrupted)")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/osydiag/internal/app"
)

func newSimCmd() *cobra.Command {
	opts := app.SimOptions{}
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Simulate an openSYDE node",
		Long: `Serve the configured node model as an openSYDE node over DoIP.

The simulated node keeps datapool elements in RAM, NVM datapools in an NVM
image, answers metadata and checksum requests and pushes event-driven
transmissions on three rails. Fault injection (latency, dropped or pending
responses, disconnects) is taken from simulator.faults or a --mode preset.

Press Ctrl+C to stop the simulator.`,
		Example: `  # Simulate the built-in example node
  osydiag sim

  # Simulate a configured node with injected faults
  osydiag sim --config node.yaml --mode flaky --listen 127.0.0.1:13400`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			opts.Out = cmd.OutOrStdout()
			return app.RunSim(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Node configuration file (default: built-in example node)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "Listen address host:port (overrides simulator.listen_address)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "Fault preset: baseline|slow|flaky|perf")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level override: silent|error|warn|info|verbose|debug")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "Log format override: text|json")

	cmd.AddCommand(&cobra.Command{
		Use:   "modes",
		Short: "List fault presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "Available modes:")
			for _, m := range app.SimModes {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s - %s\n", m.Name, m.Description)
			}
			return nil
		},
	})
	return cmd
}

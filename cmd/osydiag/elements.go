package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonylturner/osydiag/internal/app"
)

func newReadCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "read <element>...",
		Short: "Read datapool elements",
		Long: `Read one or more datapool elements from the node.

Elements are addressed by name (DataPool.List.Element) or by index
(0.0.1) as defined in the node configuration. Indices outside the
configured model are rejected before anything is sent.`,
		Example: `  # Read by name from the built-in example node
  osydiag read DiagData.Measurements.SupplyVoltage --address 192.168.0.10:13400

  # Read several elements by index
  osydiag read 0.0.0 0.0.1 --config node.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<element>")
			}
			return app.RunRead(cmd.Context(), app.ReadOptions{Session: flags.options(cmd), Paths: args})
		},
	}
	registerSessionFlags(cmd, flags)
	return cmd
}

func newWriteCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "write <element> <values>",
		Short: "Write a datapool element",
		Long: `Write a datapool element. Array elements take a comma separated list;
missing trailing entries are written as zero.`,
		Example: `  osydiag write DiagData.Measurements.Counter 42
  osydiag write DiagData.Measurements.Setpoints 1.5,2,2.5,3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) < 2 {
				return missingFlagError(cmd, "<element> <values>")
			}
			values, err := app.ParseValues(strings.Join(args[1:], ","))
			if err != nil {
				return err
			}
			return app.RunWrite(cmd.Context(), app.WriteOptions{Session: flags.options(cmd), Path: args[0], Values: values})
		},
	}
	registerSessionFlags(cmd, flags)
	return cmd
}

func newNvmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nvm",
		Short: "Read and write elements in the node's NVM",
		Long: `Access elements of NVM datapools through the node's non-volatile memory.
Writes run as one transaction followed by a change notification for the
element's list.`,
	}
	cmd.AddCommand(newNvmReadCmd())
	cmd.AddCommand(newNvmWriteCmd())
	return cmd
}

func newNvmReadCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "read <element>...",
		Short: "Read NVM elements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<element>")
			}
			return app.RunRead(cmd.Context(), app.ReadOptions{Session: flags.options(cmd), Paths: args, Nvm: true})
		},
	}
	registerSessionFlags(cmd, flags)
	return cmd
}

func newNvmWriteCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:     "write <element> <values>",
		Short:   "Write an NVM element and notify the node",
		Example: `  osydiag nvm write Parameters.Calibration.Gain 1.25`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) < 2 {
				return missingFlagError(cmd, "<element> <values>")
			}
			values, err := app.ParseValues(strings.Join(args[1:], ","))
			if err != nil {
				return err
			}
			return app.RunWrite(cmd.Context(), app.WriteOptions{Session: flags.options(cmd), Path: args[0], Values: values, Nvm: true})
		},
	}
	registerSessionFlags(cmd, flags)
	return cmd
}

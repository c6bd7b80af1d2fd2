package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/osydiag/internal/app"
)

func newDataPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datapool",
		Short: "Datapool version, checksum and NVM notification commands",
	}
	cmd.AddCommand(newDataPoolInfoCmd())
	cmd.AddCommand(newDataPoolVerifyCmd())
	cmd.AddCommand(newDataPoolNotifyCmd())
	return cmd
}

func newDataPoolInfoCmd() *cobra.Command {
	flags := &sessionFlags{}
	var dataPools []string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show datapool versions and check them against the configured constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunDataPoolInfo(cmd.Context(), app.DataPoolOptions{Session: flags.options(cmd), DataPools: dataPools})
		},
	}
	registerSessionFlags(cmd, flags)
	cmd.Flags().StringSliceVar(&dataPools, "datapool", nil, "Datapool name or index (repeatable, default all)")
	return cmd
}

func newDataPoolVerifyCmd() *cobra.Command {
	flags := &sessionFlags{}
	var dataPools []string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare datapool checksums on the node with the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunDataPoolVerify(cmd.Context(), app.DataPoolOptions{Session: flags.options(cmd), DataPools: dataPools})
		},
	}
	registerSessionFlags(cmd, flags)
	cmd.Flags().StringSliceVar(&dataPools, "datapool", nil, "Datapool name or index (repeatable, default all)")
	return cmd
}

func newDataPoolNotifyCmd() *cobra.Command {
	flags := &sessionFlags{}
	var dataPool string
	var list uint16
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notify the node that NVM data of a list changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if dataPool == "" {
				return missingFlagError(cmd, "--datapool")
			}
			return app.RunDataPoolNotify(cmd.Context(), app.DataPoolOptions{
				Session:   flags.options(cmd),
				DataPools: []string{dataPool},
				List:      list,
			})
		},
	}
	registerSessionFlags(cmd, flags)
	cmd.Flags().StringVar(&dataPool, "datapool", "", "Datapool name or index (required)")
	cmd.Flags().Uint16Var(&list, "list", 0, "List index")
	return cmd
}

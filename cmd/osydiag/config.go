package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tonylturner/osydiag/internal/app"
	"github.com/tonylturner/osydiag/internal/config"
)

const defaultConfigPath = "osydiag.yaml"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, validate and print node configurations",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigPrintDefaultCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the example node configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunConfigInit(path, force, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&path, "config", defaultConfigPath, "Configuration file to create")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunConfigValidate(path, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&path, "config", defaultConfigPath, "Configuration file")
	return cmd
}

func newConfigPrintDefaultCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "print-default",
		Short: "Print the example node configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CreateDefaultConfig()
			if mode != "" {
				if err := app.ApplySimMode(cfg, mode); err != nil {
					return err
				}
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Apply a simulator fault preset: baseline|slow|flaky|perf")
	return cmd
}

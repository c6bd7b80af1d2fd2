package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// handleHelpArg prints help when the first positional argument is "help", so
// "osydiag sim help" never starts anything.
func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) > 0 && strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("%s: required flag %s not set", cmd.CommandPath(), flag)
}

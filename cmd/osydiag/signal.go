package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/osydiag/internal/app"
)

func newSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Decode and encode CAN signals of configured messages",
		Long: `Work with the CAN messages defined in the configuration's messages
section. Traces are SocketCAN pcap files as written by candump -l or
Wireshark on Linux.`,
	}
	cmd.AddCommand(newSignalDecodeCmd())
	cmd.AddCommand(newSignalEncodeCmd())
	return cmd
}

func newSignalDecodeCmd() *cobra.Command {
	opts := app.SignalDecodeOptions{}
	cmd := &cobra.Command{
		Use:     "decode",
		Short:   "Decode configured messages from a SocketCAN trace",
		Example: `  osydiag signal decode --input bus.pcap --message Status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if opts.Input == "" {
				return missingFlagError(cmd, "--input")
			}
			opts.Out = cmd.OutOrStdout()
			return app.RunSignalDecode(opts)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Configuration file with the message definitions")
	cmd.Flags().StringVar(&opts.Input, "input", "", "SocketCAN pcap trace (required)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "Decode only this message")
	return cmd
}

func newSignalEncodeCmd() *cobra.Command {
	opts := app.SignalEncodeOptions{}
	var pairs []string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode signal values into a frame",
		Example: `  osydiag signal encode --message Status --set SupplyVoltage=12.6 --set Alive=1
  osydiag signal encode --message Status --set Temperature=-5 --output status.pcap --count 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if opts.Message == "" {
				return missingFlagError(cmd, "--message")
			}
			values, err := app.ParseSignalValues(pairs)
			if err != nil {
				return err
			}
			opts.Values = values
			opts.Out = cmd.OutOrStdout()
			return app.RunSignalEncode(opts)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Configuration file with the message definitions")
	cmd.Flags().StringVar(&opts.Message, "message", "", "Message name (required)")
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "Signal value as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.Output, "output", "", "Write the frame to a SocketCAN pcap trace")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "Number of frames to write")
	cmd.Flags().DurationVar(&opts.Period, "period", 100*time.Millisecond, "Time between written frames")
	return cmd
}

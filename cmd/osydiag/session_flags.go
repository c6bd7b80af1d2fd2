package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/osydiag/internal/app"
)

type sessionFlags struct {
	config      string
	address     string
	timeoutMs   int
	logLevel    string
	logFormat   string
	metricsFile string
}

func registerSessionFlags(cmd *cobra.Command, flags *sessionFlags) {
	cmd.Flags().StringVar(&flags.config, "config", "", "Node configuration file (default: built-in example node)")
	cmd.Flags().StringVar(&flags.address, "address", "", "Node DoIP address host:port (overrides config)")
	cmd.Flags().IntVar(&flags.timeoutMs, "timeout-ms", 0, "Response timeout in milliseconds (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level override: silent|error|warn|info|verbose|debug")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format override: text|json")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write per-request metrics to this CSV file")
}

func (f *sessionFlags) options(cmd *cobra.Command) app.SessionOptions {
	return app.SessionOptions{
		ConfigPath:  f.config,
		Address:     f.address,
		TimeoutMs:   f.timeoutMs,
		LogLevel:    f.logLevel,
		LogFormat:   f.logFormat,
		MetricsFile: f.metricsFile,
		Out:         cmd.OutOrStdout(),
	}
}

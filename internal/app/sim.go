package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/osy/server"
)

type SimOptions struct {
	ConfigPath string
	Listen     string
	Mode       string
	LogLevel   string
	LogFormat  string
	Out        io.Writer
}

// SimModes lists the fault presets understood by ApplySimMode.
var SimModes = []struct{ Name, Description string }{
	{"baseline", "no faults, log every response"},
	{"slow", "latency with jitter and periodic spikes, responses announced as pending"},
	{"flaky", "latency, dropped responses and occasional disconnects"},
	{"perf", "no faults, minimal logging"},
}

// RunSim serves the configured node on a DoIP listener until ctx ends or the
// process is interrupted.
func RunSim(ctx context.Context, opts SimOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Mode != "" {
		if err := ApplySimMode(cfg, opts.Mode); err != nil {
			return err
		}
	}
	if opts.Listen != "" {
		cfg.Simulator.ListenAddress = opts.Listen
	}

	logger, err := newLogger(cfg, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("create simulator: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start simulator: %w", err)
	}

	out := output(opts.Out)
	fmt.Fprintf(out, "%s node %s on %s\n", status(true, "Simulating", ""), cfg.Node.Name, srv.TCPAddr())
	for i, dp := range cfg.Node.DataPools {
		fmt.Fprintf(out, "  %s\n", dimStyle.Render(fmt.Sprintf("[%d] %s v%s, %d element(s)", i, dp.Name, dp.Version, dp.ElementCount())))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Fprintln(out, "\nShutting down simulator...")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop simulator: %w", err)
	}
	if changes := srv.Node().Changes(); len(changes) > 0 {
		fmt.Fprintf(out, "NVM change notifications: %d\n", len(changes))
	}
	return nil
}

// ApplySimMode overwrites fault and logging settings with a preset.
func ApplySimMode(cfg *config.Config, mode string) error {
	faults := &cfg.Simulator.Faults
	switch mode {
	case "baseline":
		faults.Enable = false
		cfg.Logging.Level = "info"
		cfg.Logging.LogEveryN = 1
	case "slow":
		faults.Enable = true
		faults.Latency.BaseDelayMs = 20
		faults.Latency.JitterMs = 30
		faults.Latency.SpikeEveryN = 10
		faults.Latency.SpikeDelayMs = 400
		faults.Reliability.PendingEveryN = 5
	case "flaky":
		faults.Enable = true
		faults.Latency.BaseDelayMs = 5
		faults.Latency.JitterMs = 10
		faults.Reliability.DropResponseEveryN = 20
		faults.Reliability.DropResponsePct = 0.02
		faults.Reliability.CloseConnectionEveryN = 200
	case "perf":
		faults.Enable = false
		cfg.Logging.Level = "error"
		cfg.Logging.LogEveryN = 100
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}

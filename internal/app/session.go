package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/dealer"
	"github.com/tonylturner/osydiag/internal/errors"
	"github.com/tonylturner/osydiag/internal/logging"
	"github.com/tonylturner/osydiag/internal/metrics"
	"github.com/tonylturner/osydiag/internal/osy"
	"github.com/tonylturner/osydiag/internal/osy/link"
	"github.com/tonylturner/osydiag/internal/osy/service"
)

// SessionOptions select the node and how to talk to it. Zero values fall
// back to the configuration file.
type SessionOptions struct {
	ConfigPath  string
	Address     string
	TimeoutMs   int
	LogLevel    string
	LogFormat   string
	MetricsFile string
	Out         io.Writer
}

// session is one connected tester.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	sink    *metrics.Sink
	client  *service.Client
	dealer  *dealer.Dealer
	out     io.Writer
	metrics string
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.CreateDefaultConfig()
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, errors.WrapConfigError(err, "environment")
		}
		return cfg, nil
	}
	return config.LoadConfig(path, false)
}

func newLogger(cfg *config.Config, level, format string) (*logging.Logger, error) {
	if level == "" {
		level = cfg.Logging.Level
	}
	if format == "" {
		format = cfg.Logging.Format
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.NewLoggerWithOptions(lvl, cfg.Logging.LogFile, format, cfg.Logging.LogEveryN)
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

// openSession loads the configuration, connects to the node and returns a
// dealer bound to the node model.
func openSession(ctx context.Context, opts SessionOptions) (*session, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Address != "" {
		cfg.Connection.Address = opts.Address
	}
	if opts.TimeoutMs > 0 {
		cfg.Connection.TimeoutMs = opts.TimeoutMs
	}

	logger, err := newLogger(cfg, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	conn := cfg.Connection
	timeout := time.Duration(conn.TimeoutMs) * time.Millisecond
	logger.LogStartup("tester", conn.Address, conn.SourceAddress, conn.TargetAddress, timeout, opts.ConfigPath)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	l, err := link.Dial(dialCtx, conn.Address, conn.SourceAddress, conn.TargetAddress)
	if err != nil {
		logger.Close()
		return nil, errors.WrapNetworkError(err, conn.Address)
	}

	sink := metrics.NewSink()
	client := service.NewClient(l, service.Options{
		Timeout:        timeout,
		PendingTimeout: time.Duration(conn.PendingTimeoutMs) * time.Millisecond,
	}, logger, sink)
	driver := osy.NewDriver(client, logger)

	return &session{
		cfg:     cfg,
		logger:  logger,
		sink:    sink,
		client:  client,
		dealer:  dealer.New(driver, &cfg.Node, logger),
		out:     output(opts.Out),
		metrics: opts.MetricsFile,
	}, nil
}

// Close disconnects and writes collected metrics if requested.
func (s *session) Close() error {
	s.client.Close()
	defer s.logger.Close()

	if s.metrics == "" {
		return nil
	}
	w, err := metrics.NewWriter(s.metrics, "")
	if err != nil {
		return fmt.Errorf("create metrics writer: %w", err)
	}
	if err := w.WriteAll(s.sink); err != nil {
		w.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	s.logger.Verbose("Metrics written to %s", s.metrics)
	return w.Close()
}

// unit returns the element's unit prefixed with a space, or "".
func unit(u string) string {
	if u == "" {
		return ""
	}
	return " " + u
}

// ParseValues parses a comma or space separated list of numbers.
func ParseValues(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values given")
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", f)
		}
		values[i] = v
	}
	return values, nil
}

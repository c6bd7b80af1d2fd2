package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tonylturner/osydiag/internal/dealer"
	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/errors"
	"github.com/tonylturner/osydiag/internal/metrics"
)

type MonitorOptions struct {
	Session SessionOptions
	// Cyclic elements are pushed every rail interval.
	Cyclic []string
	// Changes elements are pushed when they move by at least Threshold.
	Changes   []string
	Threshold uint32
	Rail      uint8
	// Duration stops the monitor; zero runs until interrupted.
	Duration time.Duration
}

// RunMonitor subscribes to elements and prints pushed values until the
// duration elapses or the process is interrupted.
func RunMonitor(ctx context.Context, opts MonitorOptions) error {
	if len(opts.Cyclic)+len(opts.Changes) == 0 {
		return fmt.Errorf("no element to monitor")
	}
	if opts.Rail >= diag.RailCount {
		return fmt.Errorf("rail %d out of range (0..%d)", opts.Rail, diag.RailCount-1)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s, err := openSession(ctx, opts.Session)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.dealer.SetRailRates(ctx, s.cfg.Connection.RailRatesMs); err != nil {
		return errors.WrapServiceError(err, "set rail rates")
	}

	start := time.Now()
	show := func(ev dealer.Event) {
		elapsed := fmt.Sprintf("%9.3fs", time.Since(start).Seconds())
		if ev.Err != nil {
			fmt.Fprintf(s.out, "%s %s %s\n", dimStyle.Render(elapsed), pathStyle.Render(ev.Ref.Path()), warningStyle.Render(ev.Err.Error()))
			return
		}
		fmt.Fprintf(s.out, "%s %s = %s%s\n", dimStyle.Render(elapsed), pathStyle.Render(ev.Ref.Path()), ev.Value, dimStyle.Render(unit(ev.Ref.Element.Unit)))
	}

	// Run must be done with the link before the deferred Close.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runDone := make(chan error, 1)
	go func() { runDone <- s.dealer.Run(runCtx, time.Duration(s.cfg.Connection.CycleIntervalMs)*time.Millisecond) }()

	subscribe := func() error {
		for _, path := range opts.Cyclic {
			if err := s.dealer.SubscribeCyclic(ctx, path, opts.Rail, show); err != nil {
				return errors.WrapServiceError(err, "subscribe "+path)
			}
		}
		for _, path := range opts.Changes {
			if err := s.dealer.SubscribeChangeDriven(ctx, path, opts.Rail, opts.Threshold, show); err != nil {
				return errors.WrapServiceError(err, "subscribe "+path)
			}
		}
		return nil
	}
	if err := subscribe(); err != nil {
		stopRun()
		<-runDone
		return err
	}
	s.logger.Info("Monitoring %d element(s) on rail %d", len(opts.Cyclic)+len(opts.Changes), opts.Rail)

	runErr := <-runDone

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.dealer.StopAll(stopCtx); err != nil {
		s.logger.Warn("Stopping events: %v", err)
	}

	summary := s.sink.GetSummary()
	fmt.Fprintf(s.out, "\n%s\n", headerStyle.Render("Summary"))
	fmt.Fprint(s.out, metrics.FormatSummary(summary))
	return runErr
}

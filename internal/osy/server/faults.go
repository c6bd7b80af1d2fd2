package server

import (
	"context"
	"math/rand"
	"time"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/osy/link"
	"github.com/tonylturner/osydiag/internal/osy/wire"
)

// pendingDelay is how long a pending-injected response is held back.
const pendingDelay = 50 * time.Millisecond

func resolveFaultPolicy(cfg config.SimulatorConfig) faultPolicy {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return faultPolicy{
		enabled:       cfg.Faults.Enable,
		latencyBase:   time.Duration(cfg.Faults.Latency.BaseDelayMs) * time.Millisecond,
		latencyJitter: time.Duration(cfg.Faults.Latency.JitterMs) * time.Millisecond,
		spikeEveryN:   cfg.Faults.Latency.SpikeEveryN,
		spikeDelay:    time.Duration(cfg.Faults.Latency.SpikeDelayMs) * time.Millisecond,
		dropEveryN:    cfg.Faults.Reliability.DropResponseEveryN,
		dropPct:       cfg.Faults.Reliability.DropResponsePct,
		pendingEveryN: cfg.Faults.Reliability.PendingEveryN,
		closeEveryN:   cfg.Faults.Reliability.CloseConnectionEveryN,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

func (s *Server) nextResponseFaultAction() responseFaultAction {
	if !s.faults.enabled {
		return responseFaultAction{}
	}

	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()

	s.faults.responseCount++
	count := s.faults.responseCount
	delay := s.faults.latencyBase

	if s.faults.latencyJitter > 0 {
		jitter := time.Duration(s.faults.rng.Int63n(int64(s.faults.latencyJitter) + 1))
		delay += jitter
	}
	if s.faults.spikeEveryN > 0 && count%s.faults.spikeEveryN == 0 {
		delay += s.faults.spikeDelay
	}

	drop := s.faults.dropEveryN > 0 && count%s.faults.dropEveryN == 0
	if s.faults.dropPct > 0 && s.faults.rng.Float64() < s.faults.dropPct {
		drop = true
	}

	return responseFaultAction{
		drop:    drop,
		delay:   delay,
		pending: s.faults.pendingEveryN > 0 && count%s.faults.pendingEveryN == 0,
		close:   s.faults.closeEveryN > 0 && count%s.faults.closeEveryN == 0,
	}
}

// writeResponse sends resp through the fault policy. It returns link.ErrClosed
// when the policy closed the link.
func (s *Server) writeResponse(ctx context.Context, l link.Link, req, resp []byte) error {
	action := s.nextResponseFaultAction()
	if action.pending {
		if err := l.Send(ctx, wire.Negative(req[0], wire.NRCResponsePending)); err != nil {
			return err
		}
		action.delay += pendingDelay
	}
	if action.delay > 0 {
		select {
		case <-time.After(action.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !action.drop {
		if err := l.Send(ctx, resp); err != nil {
			s.logger.Error("Write response error: %v", err)
			return err
		}
	} else {
		s.logger.Verbose("Dropped response % X", resp)
	}

	if action.close {
		_ = l.Close()
		return link.ErrClosed
	}
	return nil
}

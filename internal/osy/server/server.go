// Package server simulates an openSYDE node: datapool element storage, an NVM
// image, datapool metadata and three event rails, served over any link.Link
// or a DoIP TCP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/logging"
	"github.com/tonylturner/osydiag/internal/osy/link"
	"github.com/tonylturner/osydiag/internal/osy/wire"
)

// pollInterval bounds how long Serve blocks before rechecking its context.
const pollInterval = 50 * time.Millisecond

// NewServer creates a simulated node from cfg.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	node, err := NewNode(cfg.Node)
	if err != nil {
		return nil, fmt.Errorf("build node model: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   cfg,
		logger:   logger,
		node:     node,
		faults:   resolveFaultPolicy(cfg.Simulator),
		sessions: make(map[*session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Node returns the simulated node state.
func (s *Server) Node() *Node {
	return s.node
}

type session struct {
	server *Server
	node   *Node
	link   link.Link
	rails  *rails
}

// Serve answers requests arriving on l and pushes subscribed events until ctx
// ends, the server stops or the link closes.
func (s *Server) Serve(ctx context.Context, l link.Link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	sess := &session{server: s, node: s.node, link: l, rails: newRails()}
	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsMu.Unlock()
	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, sess)
		s.sessionsMu.Unlock()
	}()

	events := make(chan struct{})
	go func() {
		defer close(events)
		sess.runEvents(ctx)
	}()
	defer func() { <-events }()
	defer cancel()

	for {
		req, err := l.Receive(ctx, pollInterval)
		switch {
		case err == nil:
		case errors.Is(err, link.ErrTimeout), errors.Is(err, link.ErrNoData):
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, link.ErrClosed):
			return nil
		default:
			return fmt.Errorf("receive request: %w", err)
		}

		s.logger.LogHex("Request", req)
		resp := sess.handle(req)
		if len(resp) >= 3 && resp[0] == wire.SIDNegativeResponse {
			s.logger.Verbose("Request 0x%02X rejected: %s", req[0], wire.NRCName(resp[2]))
		}
		if err := s.writeResponse(ctx, l, req, resp); err != nil {
			if errors.Is(err, link.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send response: %w", err)
		}
	}
}

// runEvents pushes due rail transmissions until ctx ends.
func (sess *session) runEvents(ctx context.Context) {
	ticker := time.NewTicker(eventTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sub := range sess.rails.due(now) {
				sess.push(ctx, sub)
			}
		}
	}
}

func (sess *session) push(ctx context.Context, sub *subscription) {
	var pdu []byte
	value, code := sess.node.ReadElement(sub.id)
	if code != 0 {
		pdu, _ = wire.EventErrorPDU(sub.id, code)
	} else {
		if !sub.due(value) {
			return
		}
		pdu, _ = wire.EventPDU(sub.rail, sub.id, value)
	}
	if pdu == nil {
		return
	}
	if err := sess.link.Send(ctx, pdu); err != nil && !errors.Is(err, link.ErrClosed) {
		sess.server.logger.Debug("Event push for %s not sent: %v", sub.id, err)
	}
}

// Start listens for DoIP connections on the configured address.
func (s *Server) Start() error {
	addr := s.config.Simulator.ListenAddress
	if addr == "" {
		addr = config.DefaultListenAddress
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("resolve TCP address: %w", err)
	}

	s.tcpListener, err = net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("listen TCP: %w", err)
	}

	s.logger.Info("Simulated node %s listening on %s (logical address 0x%04X)",
		s.config.Node.Name, s.tcpListener.Addr(), s.config.Connection.TargetAddress)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// TCPAddr returns the bound TCP address after Start.
func (s *Server) TCPAddr() *net.TCPAddr {
	if s.tcpListener == nil {
		return nil
	}
	if addr, ok := s.tcpListener.Addr().(*net.TCPAddr); ok {
		return addr
	}
	return nil
}

// Stop closes the listener, ends all sessions and waits for them.
func (s *Server) Stop() error {
	s.cancel()
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}
	s.sessionsMu.Lock()
	for sess := range s.sessions {
		sess.link.Close()
	}
	s.sessionsMu.Unlock()

	s.wg.Wait()
	s.logger.Info("Simulated node stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		conn, err := s.tcpListener.AcceptTCP()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn *net.TCPConn) {
	defer s.wg.Done()

	remoteAddr := conn.RemoteAddr().String()
	s.logger.Info("New connection from %s", remoteAddr)

	l := link.NewTCPLink(conn, s.config.Connection.TargetAddress, s.config.Connection.SourceAddress, true)
	defer l.Close()

	if err := s.Serve(s.ctx, l); err != nil {
		s.logger.Error("Session %s: %v", remoteAddr, err)
		return
	}
	s.logger.Info("Connection closed: %s", remoteAddr)
}

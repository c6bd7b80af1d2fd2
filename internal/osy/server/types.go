package server

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/logging"
)

// Server simulates an openSYDE node behind a DoIP gateway.
type Server struct {
	config      *config.Config
	logger      *logging.Logger
	node        *Node
	tcpListener *net.TCPListener
	faults      faultPolicy
	sessionsMu  sync.Mutex
	sessions    map[*session]struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type faultPolicy struct {
	enabled bool

	latencyBase   time.Duration
	latencyJitter time.Duration
	spikeEveryN   int
	spikeDelay    time.Duration

	dropEveryN    int
	dropPct       float64
	pendingEveryN int
	closeEveryN   int

	mu            sync.Mutex
	responseCount int
	rng           *rand.Rand
}

type responseFaultAction struct {
	drop    bool
	delay   time.Duration
	pending bool
	close   bool
}

package link

// PDU links carrying openSYDE service PDUs between client and node

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoData is returned by a non-blocking Receive when nothing is queued.
	ErrNoData = errors.New("link: no data")
	// ErrTxBufferFull is returned when a PDU cannot be queued for sending.
	ErrTxBufferFull = errors.New("link: transmit buffer full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("link: closed")
	// ErrTimeout is returned when Receive waited the full timeout.
	ErrTimeout = errors.New("link: receive timeout")
)

// Link moves whole PDUs. Receive with a zero timeout polls without blocking.
type Link interface {
	Send(ctx context.Context, pdu []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

// DefaultPipeDepth is the queue depth used when NewPipe is given zero.
const DefaultPipeDepth = 64

// pipeEnd is one side of an in-memory pipe.
type pipeEnd struct {
	rx   <-chan []byte
	tx   chan<- []byte
	done chan struct{}
	once *sync.Once
}

var _ Link = (*pipeEnd)(nil)

// NewPipe returns two connected links. Each direction queues up to depth PDUs.
func NewPipe(depth int) (Link, Link) {
	if depth <= 0 {
		depth = DefaultPipeDepth
	}
	ab := make(chan []byte, depth)
	ba := make(chan []byte, depth)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{rx: ba, tx: ab, done: done, once: once},
		&pipeEnd{rx: ab, tx: ba, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, pdu []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	buf := append([]byte(nil), pdu...)
	select {
	case p.tx <- buf:
		return nil
	default:
		return ErrTxBufferFull
	}
}

func (p *pipeEnd) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case pdu := <-p.rx:
		return pdu, nil
	default:
	}
	if timeout <= 0 {
		select {
		case <-p.done:
			return nil, ErrClosed
		default:
			return nil, ErrNoData
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pdu := <-p.rx:
		return pdu, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close closes both ends of the pipe.
func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

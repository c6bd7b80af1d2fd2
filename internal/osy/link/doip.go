package link

// DoIP (ISO 13400) framing over TCP. Service PDUs travel as diagnostic
// message payloads addressed by source and target logical addresses.

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DoIP constants.
const (
	DoIPPort          = 13400
	doipVersion       = 0x02
	doipHeaderLen     = 8
	doipMaxPayloadLen = 0x10000

	PayloadRoutingActivationRequest  = 0x0005
	PayloadRoutingActivationResponse = 0x0006
	PayloadDiagnosticMessage         = 0x8001
	PayloadDiagnosticAck             = 0x8002
	PayloadDiagnosticNack            = 0x8003

	routingActivationSuccess = 0x10
	routingActivationTimeout = 2 * time.Second
)

// ErrRoutingActivation is returned by Dial when the node refuses routing.
var ErrRoutingActivation = errors.New("link: routing activation refused")

// EncodeDoIP builds one DoIP frame.
func EncodeDoIP(payloadType uint16, payload []byte) []byte {
	frame := make([]byte, doipHeaderLen+len(payload))
	frame[0] = doipVersion
	frame[1] = ^byte(doipVersion)
	binary.BigEndian.PutUint16(frame[2:4], payloadType)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[doipHeaderLen:], payload)
	return frame
}

// ReadDoIP reads one DoIP frame from r.
func ReadDoIP(r io.Reader) (uint16, []byte, error) {
	header := make([]byte, doipHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != doipVersion || header[1] != ^header[0] {
		return 0, nil, fmt.Errorf("invalid DoIP header version 0x%02X/0x%02X", header[0], header[1])
	}
	payloadType := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint32(header[4:8])
	if length > doipMaxPayloadLen {
		return 0, nil, fmt.Errorf("DoIP payload too large: %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read DoIP payload: %w", err)
	}
	return payloadType, payload, nil
}

// TCPLink carries PDUs over one DoIP TCP connection. A background reader
// queues received diagnostic messages for Receive.
type TCPLink struct {
	conn   net.Conn
	source uint16
	target uint16
	node   bool

	writeMu sync.Mutex
	rx      chan []byte
	done    chan struct{}
	once    sync.Once

	errMu   sync.Mutex
	readErr error

	activated chan uint8
	nacks     int
}

var _ Link = (*TCPLink)(nil)

// NewTCPLink wraps an established connection. source is the local logical
// address and target the peer's. A node side link answers routing activation
// and acknowledges diagnostic messages.
func NewTCPLink(conn net.Conn, source, target uint16, node bool) *TCPLink {
	l := &TCPLink{
		conn:      conn,
		source:    source,
		target:    target,
		node:      node,
		rx:        make(chan []byte, DefaultPipeDepth),
		done:      make(chan struct{}),
		activated: make(chan uint8, 1),
	}
	go l.readLoop()
	return l
}

// Dial connects to a node and performs routing activation.
func Dial(ctx context.Context, addr string, source, target uint16) (*TCPLink, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve TCP address: %w", err)
	}

	dialer := net.Dialer{
		Timeout: 5 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		return nil, fmt.Errorf("dial TCP: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set keep-alive: %w", err)
		}
	}

	l := NewTCPLink(conn, source, target, false)
	if err := l.activateRouting(ctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *TCPLink) activateRouting(ctx context.Context) error {
	req := make([]byte, 7)
	binary.BigEndian.PutUint16(req[0:2], l.source)
	if err := l.writeFrame(ctx, PayloadRoutingActivationRequest, req); err != nil {
		return err
	}

	timer := time.NewTimer(routingActivationTimeout)
	defer timer.Stop()
	select {
	case code := <-l.activated:
		if code != routingActivationSuccess {
			return fmt.Errorf("%w: code 0x%02X", ErrRoutingActivation, code)
		}
		return nil
	case <-l.done:
		return l.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: no routing activation response", ErrTimeout)
	}
}

func (l *TCPLink) readLoop() {
	defer l.Close()
	for {
		payloadType, payload, err := ReadDoIP(l.conn)
		if err != nil {
			l.errMu.Lock()
			l.readErr = err
			l.errMu.Unlock()
			return
		}

		switch payloadType {
		case PayloadDiagnosticMessage:
			if len(payload) < 4 {
				continue
			}
			pdu := payload[4:]
			if l.node {
				ack := append(append([]byte(nil), payload[2:4]...), payload[0:2]...)
				ack = append(ack, 0x00)
				_ = l.writeFrame(context.Background(), PayloadDiagnosticAck, ack)
			}
			select {
			case l.rx <- pdu:
			case <-l.done:
				return
			}
		case PayloadRoutingActivationRequest:
			if !l.node || len(payload) < 2 {
				continue
			}
			resp := make([]byte, 9)
			copy(resp[0:2], payload[0:2])
			binary.BigEndian.PutUint16(resp[2:4], l.source)
			resp[4] = routingActivationSuccess
			_ = l.writeFrame(context.Background(), PayloadRoutingActivationResponse, resp)
		case PayloadRoutingActivationResponse:
			if len(payload) >= 5 {
				select {
				case l.activated <- payload[4]:
				default:
				}
			}
		case PayloadDiagnosticNack:
			l.errMu.Lock()
			l.nacks++
			l.errMu.Unlock()
		}
	}
}

func (l *TCPLink) writeFrame(ctx context.Context, payloadType uint16, payload []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := l.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	} else {
		_ = l.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := l.conn.Write(EncodeDoIP(payloadType, payload)); err != nil {
		return fmt.Errorf("write DoIP frame: %w", err)
	}
	return nil
}

// Send writes pdu as a diagnostic message to the target address.
func (l *TCPLink) Send(ctx context.Context, pdu []byte) error {
	select {
	case <-l.done:
		return l.closedErr()
	default:
	}
	msg := make([]byte, 4+len(pdu))
	binary.BigEndian.PutUint16(msg[0:2], l.source)
	binary.BigEndian.PutUint16(msg[2:4], l.target)
	copy(msg[4:], pdu)
	return l.writeFrame(ctx, PayloadDiagnosticMessage, msg)
}

// Receive returns the next diagnostic message payload.
func (l *TCPLink) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case pdu := <-l.rx:
		return pdu, nil
	default:
	}
	if timeout <= 0 {
		select {
		case <-l.done:
			return nil, l.closedErr()
		default:
			return nil, ErrNoData
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pdu := <-l.rx:
		return pdu, nil
	case <-l.done:
		return nil, l.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Nacks returns the number of negative acknowledgements received.
func (l *TCPLink) Nacks() int {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.nacks
}

// RemoteAddr returns the peer address.
func (l *TCPLink) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}

// Close closes the connection and stops the reader.
func (l *TCPLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

func (l *TCPLink) closedErr() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.readErr != nil && !errors.Is(l.readErr, io.EOF) && !errors.Is(l.readErr, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, l.readErr)
	}
	return ErrClosed
}

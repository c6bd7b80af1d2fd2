// Package service is the openSYDE transport-service layer: it turns service
// calls into request PDUs, correlates responses, enforces timeouts and
// demultiplexes asynchronous event PDUs to an osy.EventHandler.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/logging"
	"github.com/tonylturner/osydiag/internal/metrics"
	"github.com/tonylturner/osydiag/internal/osy"
	"github.com/tonylturner/osydiag/internal/osy/link"
	"github.com/tonylturner/osydiag/internal/osy/wire"
)

// Defaults applied by NewClient for zero Options fields.
const (
	DefaultTimeout        = 1 * time.Second
	DefaultPendingTimeout = 5 * time.Second
	DefaultMaxDrain       = 64
)

// Options configures a Client.
type Options struct {
	// Timeout bounds one request/response exchange.
	Timeout time.Duration
	// PendingTimeout replaces the deadline each time the node answers with
	// NRC 0x78 (response pending).
	PendingTimeout time.Duration
	// MaxDrain bounds the PDUs handled by one Cycle.
	MaxDrain int
	// Session labels recorded metrics.
	Session string
}

// Client implements osy.ServiceDriver over a link.Link.
type Client struct {
	link    link.Link
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Sink

	// mu is held for a whole exchange and tried by Cycle.
	mu sync.Mutex

	hMu     sync.RWMutex
	handler osy.EventHandler
}

var _ osy.ServiceDriver = (*Client)(nil)

// NewClient creates a service client. logger and sink may be nil.
func NewClient(l link.Link, opts Options, logger *logging.Logger, sink *metrics.Sink) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = DefaultPendingTimeout
	}
	if opts.MaxDrain <= 0 {
		opts.MaxDrain = DefaultMaxDrain
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{link: l, opts: opts, logger: logger, metrics: sink}
}

// SetEventHandler installs the receiver of asynchronous events.
func (c *Client) SetEventHandler(h osy.EventHandler) {
	c.hMu.Lock()
	defer c.hMu.Unlock()
	c.handler = h
}

// Close closes the underlying link.
func (c *Client) Close() error {
	if c.link == nil {
		return nil
	}
	return c.link.Close()
}

// Cycle handles up to MaxDrain queued PDUs without blocking. It returns
// diag.ErrBusy if a synchronous exchange is in progress.
func (c *Client) Cycle() error {
	if c.link == nil {
		return diag.ErrNotConfigured
	}
	if !c.mu.TryLock() {
		return diag.ErrBusy
	}
	defer c.mu.Unlock()
	return c.drain()
}

// drain handles up to MaxDrain queued PDUs. Responses nobody waits for are
// discarded. c.mu must be held.
func (c *Client) drain() error {
	for i := 0; i < c.opts.MaxDrain; i++ {
		pdu, err := c.link.Receive(context.Background(), 0)
		if errors.Is(err, link.ErrNoData) {
			return nil
		}
		if err != nil {
			return mapLinkError(err)
		}
		c.logger.LogHex("rx", pdu)
		if !c.dispatchAsync(pdu) {
			c.logger.Debug("discarding unsolicited PDU % X", pdu)
		}
	}
	return nil
}

// dispatchAsync hands event PDUs to the handler and reports whether pdu was one.
func (c *Client) dispatchAsync(pdu []byte) bool {
	switch wire.Classify(pdu) {
	case wire.KindEvent:
		ev, err := wire.ParseEvent(pdu)
		if err != nil {
			c.logger.Debug("bad event PDU: %v", err)
			return true
		}
		c.metrics.RecordEvent(false)
		if h := c.eventHandler(); h != nil {
			h.OnReadEventReceived(ev.ID, ev.Value)
		}
		return true
	case wire.KindEventError:
		id, nrc, err := wire.ParseEventError(pdu)
		if err != nil {
			c.logger.Debug("bad event error PDU: %v", err)
			return true
		}
		c.metrics.RecordEvent(true)
		if h := c.eventHandler(); h != nil {
			h.OnReadEventErrorReceived(id, nrc)
		}
		return true
	}
	return false
}

func (c *Client) eventHandler() osy.EventHandler {
	c.hMu.RLock()
	defer c.hMu.RUnlock()
	return c.handler
}

func mapLinkError(err error) error {
	switch {
	case errors.Is(err, link.ErrTxBufferFull):
		return fmt.Errorf("%w: %v", diag.ErrNotSendable, err)
	case errors.Is(err, link.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", diag.ErrResponseTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", diag.ErrCommunication, err)
	}
}

// exchange sends req, waits for its response and runs check on it. Event
// PDUs arriving in the meantime are dispatched inline.
func (c *Client) exchange(ctx context.Context, service, target string, req []byte, check func(resp []byte) error) error {
	if c.link == nil {
		return diag.ErrNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Late answers to timed-out requests must not be taken for this one.
	if err := c.drain(); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.roundTrip(ctx, req)
	if err == nil && check != nil {
		err = check(resp)
	}
	rtt := float64(time.Since(start).Microseconds()) / 1000.0

	nrc, _ := diag.NRC(err)
	c.logger.LogOperation(service, target, err == nil, rtt, nrc, err)
	c.metrics.Record(metrics.Metric{
		Timestamp: start,
		Session:   c.opts.Session,
		Service:   service,
		Target:    target,
		Success:   err == nil,
		RTTMs:     rtt,
		Result:    diag.ResultOf(err).String(),
		NRC:       nrc,
		Error:     errString(err),
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	c.logger.LogHex("tx", req)
	if err := c.link.Send(ctx, req); err != nil {
		return nil, mapLinkError(err)
	}

	deadline := time.Now().Add(c.opts.Timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: service 0x%02X", diag.ErrResponseTimeout, req[0])
		}
		pdu, err := c.link.Receive(ctx, remaining)
		if err != nil {
			return nil, mapLinkError(err)
		}
		c.logger.LogHex("rx", pdu)

		if c.dispatchAsync(pdu) {
			continue
		}
		if !wire.Answers(req, pdu) {
			c.logger.Debug("ignoring PDU % X while waiting for service 0x%02X", pdu, req[0])
			continue
		}
		if wire.IsResponsePending(pdu) {
			deadline = time.Now().Add(c.opts.PendingTimeout)
			continue
		}
		if err := wire.CheckNegative(pdu); err != nil {
			return nil, err
		}
		return pdu, nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func addrTarget(address uint32) string {
	return fmt.Sprintf("0x%08X", address)
}

func echo(req []byte, n int) func([]byte) error {
	return func(resp []byte) error { return wire.ExpectEcho(req, resp, n) }
}

// ReadDataPoolData reads one element value.
func (c *Client) ReadDataPoolData(ctx context.Context, id diag.ElementID) ([]byte, error) {
	req, err := wire.ReadElementRequest(id)
	if err != nil {
		return nil, err
	}
	var value []byte
	err = c.exchange(ctx, "ReadDataPoolData", id.String(), req, func(resp []byte) (err error) {
		value, err = wire.ParseReadElementResponse(resp, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// WriteDataPoolData writes one element value.
func (c *Client) WriteDataPoolData(ctx context.Context, id diag.ElementID, data []byte) error {
	req, err := wire.WriteElementRequest(id, data)
	if err != nil {
		return err
	}
	return c.exchange(ctx, "WriteDataPoolData", id.String(), req, echo(req, wire.ElementIDLen))
}

// SetEventDataRate sets the interval of one event rail.
func (c *Client) SetEventDataRate(ctx context.Context, rail uint8, intervalMs uint16) error {
	req, err := wire.SetRailRateRequest(rail, intervalMs)
	if err != nil {
		return err
	}
	return c.exchange(ctx, "SetEventDataRate", fmt.Sprintf("rail %d", rail), req, echo(req, 2))
}

// ReadDataPoolEventCyclic starts cyclic transmission of an element.
func (c *Client) ReadDataPoolEventCyclic(ctx context.Context, id diag.ElementID, rail uint8) error {
	req, err := wire.CyclicRequest(id, rail)
	if err != nil {
		return err
	}
	return c.exchange(ctx, "ReadDataPoolEventCyclic", id.String(), req, echo(req, 2+wire.ElementIDLen))
}

// ReadDataPoolEventChangeDriven starts change driven transmission of an element.
func (c *Client) ReadDataPoolEventChangeDriven(ctx context.Context, id diag.ElementID, rail uint8, threshold uint32) error {
	req, err := wire.ChangeDrivenRequest(id, rail, threshold)
	if err != nil {
		return err
	}
	return c.exchange(ctx, "ReadDataPoolEventChangeDriven", id.String(), req, echo(req, 2+wire.ElementIDLen))
}

// StopDataPoolEvents stops all event driven transmissions.
func (c *Client) StopDataPoolEvents(ctx context.Context) error {
	req := wire.StopEventDrivenRequest()
	return c.exchange(ctx, "StopDataPoolEvents", "all", req, echo(req, 1))
}

// ReadMemoryByAddress reads size bytes of NVM.
func (c *Client) ReadMemoryByAddress(ctx context.Context, address uint32, size int) ([]byte, error) {
	req, err := wire.NvmReadRequest(address, size)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = c.exchange(ctx, "ReadMemoryByAddress", addrTarget(address), req, func(resp []byte) (err error) {
		data, err = wire.ParseNvmReadResponse(resp)
		if err == nil && len(data) != size {
			err = fmt.Errorf("%w: NVM read returned %d bytes, expected %d", diag.ErrMalformedResponse, len(data), size)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteMemoryByAddress writes data to NVM.
func (c *Client) WriteMemoryByAddress(ctx context.Context, address uint32, data []byte) error {
	req, err := wire.NvmWriteRequest(address, data)
	if err != nil {
		return err
	}
	return c.exchange(ctx, "WriteMemoryByAddress", addrTarget(address), req, echo(req, 7))
}

// ReadDataPoolMetaData reads the version and name of a datapool.
func (c *Client) ReadDataPoolMetaData(ctx context.Context, dataPool uint8) (diag.Version, string, error) {
	req, err := wire.MetaDataRequest(dataPool)
	if err != nil {
		return diag.Version{}, "", err
	}
	var (
		version diag.Version
		name    string
	)
	err = c.exchange(ctx, "ReadDataPoolMetaData", fmt.Sprintf("datapool %d", dataPool), req, func(resp []byte) (err error) {
		version, name, err = wire.ParseMetaDataResponse(resp)
		return err
	})
	return version, name, err
}

// VerifyDataPool compares the datapool checksum on the node.
func (c *Client) VerifyDataPool(ctx context.Context, dataPool uint8, checksum uint32) (bool, error) {
	req, err := wire.VerifyRequest(dataPool, checksum)
	if err != nil {
		return false, err
	}
	var match bool
	err = c.exchange(ctx, "VerifyDataPool", fmt.Sprintf("datapool %d", dataPool), req, func(resp []byte) (err error) {
		match, err = wire.ParseVerifyResponse(resp)
		return err
	})
	return match, err
}

// NotifyNvmDataChanges tells the node application that NVM contents of a
// list changed. The returned acknowledge is advisory.
func (c *Client) NotifyNvmDataChanges(ctx context.Context, dataPool uint8, list uint16) (bool, error) {
	req, err := wire.NotifyNvmChangedRequest(dataPool, list)
	if err != nil {
		return false, err
	}
	var ack bool
	err = c.exchange(ctx, "NotifyNvmDataChanges", fmt.Sprintf("datapool %d list %d", dataPool, list), req, func(resp []byte) (err error) {
		ack, err = wire.ParseNotifyNvmChangedResponse(resp)
		return err
	})
	return ack, err
}

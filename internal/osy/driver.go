// Package osy binds the generic diagnostic protocol contract to openSYDE.
//
// Driver is a translation layer: every call is forwarded to a ServiceDriver,
// which owns request/response correlation, timeouts and the transport. The
// only state held here is the asynchronous callback registration.
package osy

import (
	"context"
	"fmt"
	"sync"

	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/logging"
)

// EventHandler receives asynchronous datapool notifications decoded by a
// ServiceDriver during Cycle.
type EventHandler interface {
	OnReadEventReceived(id diag.ElementID, value []byte)
	OnReadEventErrorReceived(id diag.ElementID, nrc uint8)
}

// ServiceDriver is the openSYDE transport-service layer. Cycle must never
// block on a synchronous exchange in progress; it returns diag.ErrBusy instead.
type ServiceDriver interface {
	Cycle() error
	SetEventHandler(h EventHandler)

	ReadDataPoolData(ctx context.Context, id diag.ElementID) ([]byte, error)
	WriteDataPoolData(ctx context.Context, id diag.ElementID, data []byte) error
	SetEventDataRate(ctx context.Context, rail uint8, intervalMs uint16) error
	ReadDataPoolEventCyclic(ctx context.Context, id diag.ElementID, rail uint8) error
	ReadDataPoolEventChangeDriven(ctx context.Context, id diag.ElementID, rail uint8, threshold uint32) error
	StopDataPoolEvents(ctx context.Context) error
	ReadMemoryByAddress(ctx context.Context, address uint32, size int) ([]byte, error)
	WriteMemoryByAddress(ctx context.Context, address uint32, data []byte) error
	ReadDataPoolMetaData(ctx context.Context, dataPool uint8) (diag.Version, string, error)
	VerifyDataPool(ctx context.Context, dataPool uint8, checksum uint32) (bool, error)
	NotifyNvmDataChanges(ctx context.Context, dataPool uint8, list uint16) (bool, error)
}

// Driver implements diag.Protocol for openSYDE.
type Driver struct {
	svc    ServiceDriver
	logger *logging.Logger

	cbMu    sync.RWMutex
	onEvent diag.ReadEventFunc
	onError diag.ReadEventErrorFunc
}

var (
	_ diag.Protocol = (*Driver)(nil)
	_ EventHandler  = (*Driver)(nil)
)

// NewDriver creates a driver on top of svc and registers itself as the
// service's event handler. A nil svc yields a driver whose calls all fail
// with diag.ErrNotConfigured.
func NewDriver(svc ServiceDriver, logger *logging.Logger) *Driver {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Driver{svc: svc, logger: logger}
	if svc != nil {
		svc.SetEventHandler(d)
	}
	return d
}

// Endianness is always big endian for openSYDE.
func (d *Driver) Endianness() diag.Endianness {
	return diag.BigEndian
}

// Initialize registers the event callbacks. It may be called again at any
// time, including concurrently with Cycle.
func (d *Driver) Initialize(onEvent diag.ReadEventFunc, onError diag.ReadEventErrorFunc) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onEvent = onEvent
	d.onError = onError
}

func (d *Driver) Cycle() error {
	if d.svc == nil {
		return diag.ErrNotConfigured
	}
	return d.svc.Cycle()
}

func (d *Driver) configured() error {
	if d.svc == nil {
		return fmt.Errorf("%w: no service driver installed", diag.ErrNotConfigured)
	}
	return nil
}

// DataPoolReadNumeric is identical to DataPoolReadArray for openSYDE.
func (d *Driver) DataPoolReadNumeric(ctx context.Context, id diag.ElementID, size int) ([]byte, error) {
	return d.DataPoolReadArray(ctx, id, size)
}

// DataPoolReadArray reads an element and fails with diag.ErrMalformedResponse
// unless exactly size bytes came back.
func (d *Driver) DataPoolReadArray(ctx context.Context, id diag.ElementID, size int) ([]byte, error) {
	if err := d.configured(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: element size %d", diag.ErrOutOfRange, size)
	}
	data, err := d.svc.ReadDataPoolData(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: element %s returned %d bytes, expected %d",
			diag.ErrMalformedResponse, id, len(data), size)
	}
	return data, nil
}

func (d *Driver) DataPoolWriteNumeric(ctx context.Context, id diag.ElementID, data []byte) error {
	if err := d.configured(); err != nil {
		return err
	}
	return d.svc.WriteDataPoolData(ctx, id, data)
}

func (d *Driver) DataPoolWriteArray(ctx context.Context, id diag.ElementID, data []byte) error {
	if err := d.configured(); err != nil {
		return err
	}
	return d.svc.WriteDataPoolData(ctx, id, data)
}

func (d *Driver) DataPoolSetEventDataRate(ctx context.Context, rail uint8, intervalMs uint16) error {
	if err := d.configured(); err != nil {
		return err
	}
	return d.svc.SetEventDataRate(ctx, rail, intervalMs)
}

func (d *Driver) DataPoolReadCyclic(ctx context.Context, id diag.ElementID, rail uint8) error {
	if err := d.configured(); err != nil {
		return err
	}
	return d.svc.ReadDataPoolEventCyclic(ctx, id, rail)
}

func (d *Driver) DataPoolReadChangeDriven(ctx context.Context, id diag.ElementID, rail uint8, threshold uint32) error {
	if err := d.configured(); err != nil {
		return err
	}
	return d.svc.ReadDataPoolEventChangeDriven(ctx, id, rail, threshold)
}

func (d *Driver) DataPoolStopEventDriven(ctx context.Context) error {
	if err := d.configured(); err != nil {
		return err
	}
	return d.svc.StopDataPoolEvents(ctx)
}

func (d *Driver) NvmRead(ctx context.Context, address uint32, size int) ([]byte, error) {
	if err := d.configured(); err != nil {
		return nil, err
	}
	return d.svc.ReadMemoryByAddress(ctx, address, size)
}

// NvmWriteStartTransaction does nothing; openSYDE NVM writes are unframed.
func (d *Driver) NvmWriteStartTransaction(ctx context.Context) error {
	return nil
}

func (d *Driver) NvmWrite(ctx context.Context, address uint32, data []byte) error {
	if err := d.configured(); err != nil {
		return err
	}
	return d.svc.WriteMemoryByAddress(ctx, address, data)
}

// NvmWriteFinalizeTransaction does nothing; openSYDE NVM writes are unframed.
func (d *Driver) NvmWriteFinalizeTransaction(ctx context.Context) error {
	return nil
}

func (d *Driver) DataPoolReadVersion(ctx context.Context, dataPool uint8) (diag.Version, error) {
	v, _, err := d.DataPoolReadMetaData(ctx, dataPool)
	return v, err
}

func (d *Driver) DataPoolReadMetaData(ctx context.Context, dataPool uint8) (diag.Version, string, error) {
	if err := d.configured(); err != nil {
		return diag.Version{}, "", err
	}
	return d.svc.ReadDataPoolMetaData(ctx, dataPool)
}

// DataPoolVerify compares the checksum only. openSYDE has no element count
// or version check, so those arguments are not used.
func (d *Driver) DataPoolVerify(ctx context.Context, dataPool uint8, elementCount uint16, version diag.Version, checksum uint32) (bool, error) {
	if err := d.configured(); err != nil {
		return false, err
	}
	if elementCount != 0 || version != (diag.Version{}) {
		d.logger.Debug("datapool %d verify: element count %d and version %s not checked by openSYDE",
			dataPool, elementCount, version)
	}
	return d.svc.VerifyDataPool(ctx, dataPool, checksum)
}

func (d *Driver) NvmNotifyOfChanges(ctx context.Context, dataPool uint8, list uint16) (bool, error) {
	if err := d.configured(); err != nil {
		return false, err
	}
	return d.svc.NotifyNvmDataChanges(ctx, dataPool, list)
}

// OnReadEventReceived forwards a pushed value to the registered callback.
func (d *Driver) OnReadEventReceived(id diag.ElementID, value []byte) {
	d.cbMu.RLock()
	cb := d.onEvent
	d.cbMu.RUnlock()
	if cb == nil {
		d.logger.Warn("event for element %s dropped: no callback registered", id)
		return
	}
	cb(id, value)
}

// OnReadEventErrorReceived forwards an event error to the registered callback.
func (d *Driver) OnReadEventErrorReceived(id diag.ElementID, nrc uint8) {
	d.cbMu.RLock()
	cb := d.onError
	d.cbMu.RUnlock()
	if cb == nil {
		d.logger.Warn("event error 0x%02X for element %s dropped: no callback registered", nrc, id)
		return
	}
	cb(id, nrc)
}

// Package dealer is the application-side consumer of a diag.Protocol. It
// resolves elements against the node model, validates indices before
// anything is sent, converts payloads between protocol and host byte order,
// and drives the protocol's Cycle.
package dealer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/logging"
)

var (
	ErrVersionMismatch = errors.New("datapool version mismatch")
	ErrNotNvm          = errors.New("element is not in an NVM datapool")
	ErrNotAcknowledged = errors.New("node did not acknowledge NVM change")
)

// DefaultCycleInterval is the Run tick when none is given.
const DefaultCycleInterval = 10 * time.Millisecond

// Event is one asynchronous element update.
type Event struct {
	Ref   config.ElementRef
	Value Value
	// NRC is non-zero when the node reported an event error.
	NRC uint8
	Err error
}

// EventFunc receives subscribed element events.
type EventFunc func(Event)

// Dealer reads and writes datapool elements by name.
type Dealer struct {
	proto  diag.Protocol
	node   *config.NodeConfig
	logger *logging.Logger

	mu       sync.RWMutex
	handlers map[diag.ElementID]EventFunc
	fallback EventFunc
}

// New creates a dealer and registers its event callbacks with proto.
func New(proto diag.Protocol, node *config.NodeConfig, logger *logging.Logger) *Dealer {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dealer{
		proto:    proto,
		node:     node,
		logger:   logger,
		handlers: make(map[diag.ElementID]EventFunc),
	}
	proto.Initialize(d.onEvent, d.onEventError)
	return d
}

// Resolve looks up an element by name or index path.
func (d *Dealer) Resolve(path string) (config.ElementRef, error) {
	return d.node.Lookup(path)
}

// Read reads an element and converts it to host byte order.
func (d *Dealer) Read(ctx context.Context, path string) (Value, error) {
	ref, err := d.Resolve(path)
	if err != nil {
		return Value{}, err
	}
	return d.ReadRef(ctx, ref)
}

// ReadRef reads a resolved element.
func (d *Dealer) ReadRef(ctx context.Context, ref config.ElementRef) (Value, error) {
	size := ref.Element.Size()
	var payload []byte
	var err error
	if ref.Element.IsArray() {
		payload, err = d.proto.DataPoolReadArray(ctx, ref.ID, size)
	} else {
		payload, err = d.proto.DataPoolReadNumeric(ctx, ref.ID, size)
	}
	if err != nil {
		return Value{}, fmt.Errorf("read %s: %w", ref.Path(), err)
	}
	return FromProtocol(ref.Element.ValueType(), d.proto.Endianness(), payload)
}

// Write encodes values for the element and writes them.
func (d *Dealer) Write(ctx context.Context, path string, values ...float64) error {
	ref, err := d.Resolve(path)
	if err != nil {
		return err
	}
	v, err := NewValue(ref.Element.ValueType(), ref.Element.Count(), values...)
	if err != nil {
		return fmt.Errorf("write %s: %w", ref.Path(), err)
	}
	return d.WriteRef(ctx, ref, v)
}

// WriteRef writes a value to a resolved element.
func (d *Dealer) WriteRef(ctx context.Context, ref config.ElementRef, v Value) error {
	if v.Type != ref.Element.ValueType() || v.Len() != ref.Element.Count() {
		return fmt.Errorf("write %s: %w: value is %d x %s", ref.Path(), diag.ErrOutOfRange, v.Len(), v.Type)
	}
	payload := v.Protocol(d.proto.Endianness())
	var err error
	if ref.Element.IsArray() {
		err = d.proto.DataPoolWriteArray(ctx, ref.ID, payload)
	} else {
		err = d.proto.DataPoolWriteNumeric(ctx, ref.ID, payload)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", ref.Path(), err)
	}
	return nil
}

// ReadNvm reads an element of an NVM datapool from the node's memory.
func (d *Dealer) ReadNvm(ctx context.Context, path string) (Value, error) {
	ref, err := d.nvmRef(path)
	if err != nil {
		return Value{}, err
	}
	payload, err := d.proto.NvmRead(ctx, ref.NvmAddress(), ref.Element.Size())
	if err != nil {
		return Value{}, fmt.Errorf("NVM read %s: %w", ref.Path(), err)
	}
	return FromProtocol(ref.Element.ValueType(), d.proto.Endianness(), payload)
}

// WriteNvm writes an element of an NVM datapool to the node's memory in one
// transaction and notifies the application of the changed list.
func (d *Dealer) WriteNvm(ctx context.Context, path string, values ...float64) error {
	ref, err := d.nvmRef(path)
	if err != nil {
		return err
	}
	v, err := NewValue(ref.Element.ValueType(), ref.Element.Count(), values...)
	if err != nil {
		return fmt.Errorf("NVM write %s: %w", ref.Path(), err)
	}

	if err := d.proto.NvmWriteStartTransaction(ctx); err != nil {
		return fmt.Errorf("start NVM transaction: %w", err)
	}
	if err := d.proto.NvmWrite(ctx, ref.NvmAddress(), v.Protocol(d.proto.Endianness())); err != nil {
		return fmt.Errorf("NVM write %s: %w", ref.Path(), err)
	}
	if err := d.proto.NvmWriteFinalizeTransaction(ctx); err != nil {
		return fmt.Errorf("finalize NVM transaction: %w", err)
	}

	ack, err := d.proto.NvmNotifyOfChanges(ctx, ref.ID.DataPool, ref.ID.List)
	if err != nil {
		return fmt.Errorf("notify NVM change: %w", err)
	}
	if !ack {
		return fmt.Errorf("%w: %s", ErrNotAcknowledged, ref.Path())
	}
	return nil
}

// NotifyNvmChanged tells the node that NVM data of a list changed outside a
// WriteNvm call. It reports whether the node acknowledged.
func (d *Dealer) NotifyNvmChanged(ctx context.Context, name string, list uint16) (bool, error) {
	idx, dp, err := d.dataPool(name)
	if err != nil {
		return false, err
	}
	if int(list) >= len(dp.Lists) {
		return false, fmt.Errorf("%w: list %d of %s", diag.ErrOutOfRange, list, dp.Name)
	}
	ack, err := d.proto.NvmNotifyOfChanges(ctx, idx, list)
	if err != nil {
		return false, fmt.Errorf("notify NVM change: %w", err)
	}
	return ack, nil
}

func (d *Dealer) nvmRef(path string) (config.ElementRef, error) {
	ref, err := d.Resolve(path)
	if err != nil {
		return config.ElementRef{}, err
	}
	if !ref.DataPool.Nvm {
		return config.ElementRef{}, fmt.Errorf("%w: %s", ErrNotNvm, ref.Path())
	}
	return ref, nil
}

func (d *Dealer) dataPool(name string) (uint8, *config.DataPoolConfig, error) {
	idx, err := d.node.DataPoolIndex(name)
	if err != nil {
		return 0, nil, err
	}
	if int(idx) >= len(d.node.DataPools) {
		return 0, nil, fmt.Errorf("%w: datapool %d not in model", diag.ErrOutOfRange, idx)
	}
	return idx, &d.node.DataPools[idx], nil
}

// DataPoolInfo is the node's view of one datapool.
type DataPoolInfo struct {
	Index   uint8
	Name    string
	Version diag.Version
}

// CheckVersion reads the datapool metadata and checks the reported version
// against the model's version constraint.
func (d *Dealer) CheckVersion(ctx context.Context, name string) (DataPoolInfo, error) {
	idx, dp, err := d.dataPool(name)
	if err != nil {
		return DataPoolInfo{}, err
	}
	version, nodeName, err := d.proto.DataPoolReadMetaData(ctx, idx)
	if err != nil {
		return DataPoolInfo{}, fmt.Errorf("read metadata of %s: %w", dp.Name, err)
	}
	info := DataPoolInfo{Index: idx, Name: nodeName, Version: version}
	if nodeName != "" && nodeName != dp.Name {
		return info, fmt.Errorf("%w: datapool %d is %q on the node, %q in the model", ErrVersionMismatch, idx, nodeName, dp.Name)
	}
	if dp.VersionConstraint == "" {
		return info, nil
	}

	semVer, err := semver.NewVersion(version.Semver())
	if err != nil {
		return info, fmt.Errorf("datapool %s version %s: %w", dp.Name, version, err)
	}
	semVerConstraint, err := semver.NewConstraint(dp.VersionConstraint)
	if err != nil {
		return info, fmt.Errorf("datapool %s constraint %q: %w", dp.Name, dp.VersionConstraint, err)
	}
	if !semVerConstraint.Check(semVer) {
		return info, fmt.Errorf("%w: datapool %s is %s, require %s", ErrVersionMismatch, dp.Name, version, dp.VersionConstraint)
	}
	return info, nil
}

// Verify asks the node whether its datapool matches the model's checksum.
func (d *Dealer) Verify(ctx context.Context, name string) (bool, error) {
	idx, dp, err := d.dataPool(name)
	if err != nil {
		return false, err
	}
	version, err := config.ParseVersion(dp.Version)
	if err != nil {
		return false, err
	}
	match, err := d.proto.DataPoolVerify(ctx, idx, uint16(dp.ElementCount()), version, config.DataPoolChecksum(*dp))
	if err != nil {
		return false, fmt.Errorf("verify %s: %w", dp.Name, err)
	}
	return match, nil
}

// SetRailRates configures the event rail intervals, slowest rail first.
func (d *Dealer) SetRailRates(ctx context.Context, ratesMs []int) error {
	if len(ratesMs) > diag.RailCount {
		return fmt.Errorf("%w: %d rail rates", diag.ErrOutOfRange, len(ratesMs))
	}
	for rail, ms := range ratesMs {
		if ms <= 0 || ms > 0xFFFF {
			return fmt.Errorf("%w: rail %d interval %d ms", diag.ErrOutOfRange, rail, ms)
		}
		if err := d.proto.DataPoolSetEventDataRate(ctx, uint8(rail), uint16(ms)); err != nil {
			return fmt.Errorf("set rail %d rate: %w", rail, err)
		}
	}
	return nil
}

// SubscribeCyclic requests periodic transmission of an element on rail.
func (d *Dealer) SubscribeCyclic(ctx context.Context, path string, rail uint8, fn EventFunc) error {
	ref, err := d.Resolve(path)
	if err != nil {
		return err
	}
	d.setHandler(ref.ID, fn)
	if err := d.proto.DataPoolReadCyclic(ctx, ref.ID, rail); err != nil {
		d.setHandler(ref.ID, nil)
		return fmt.Errorf("subscribe %s: %w", ref.Path(), err)
	}
	return nil
}

// SubscribeChangeDriven requests transmission of an element on rail whenever
// it changes by at least threshold.
func (d *Dealer) SubscribeChangeDriven(ctx context.Context, path string, rail uint8, threshold uint32, fn EventFunc) error {
	ref, err := d.Resolve(path)
	if err != nil {
		return err
	}
	d.setHandler(ref.ID, fn)
	if err := d.proto.DataPoolReadChangeDriven(ctx, ref.ID, rail, threshold); err != nil {
		d.setHandler(ref.ID, nil)
		return fmt.Errorf("subscribe %s: %w", ref.Path(), err)
	}
	return nil
}

// StopAll stops every event-driven transmission.
func (d *Dealer) StopAll(ctx context.Context) error {
	if err := d.proto.DataPoolStopEventDriven(ctx); err != nil {
		return fmt.Errorf("stop events: %w", err)
	}
	d.mu.Lock()
	d.handlers = make(map[diag.ElementID]EventFunc)
	d.mu.Unlock()
	return nil
}

// OnUnsubscribed receives events for elements without a subscription.
func (d *Dealer) OnUnsubscribed(fn EventFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = fn
}

func (d *Dealer) setHandler(id diag.ElementID, fn EventFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.handlers, id)
		return
	}
	d.handlers[id] = fn
}

func (d *Dealer) handler(id diag.ElementID) EventFunc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if fn, ok := d.handlers[id]; ok {
		return fn
	}
	return d.fallback
}

func (d *Dealer) onEvent(id diag.ElementID, payload []byte) {
	fn := d.handler(id)
	if fn == nil {
		d.logger.Debug("Unsubscribed event for %s dropped", id)
		return
	}
	ref, err := d.node.Element(id)
	if err != nil {
		d.logger.Warn("Event for %s outside the node model", id)
		return
	}
	ev := Event{Ref: ref}
	ev.Value, ev.Err = FromProtocol(ref.Element.ValueType(), d.proto.Endianness(), payload)
	fn(ev)
}

func (d *Dealer) onEventError(id diag.ElementID, nrc uint8) {
	fn := d.handler(id)
	ref, err := d.node.Element(id)
	if fn == nil || err != nil {
		d.logger.Warn("Event error for %s: NRC 0x%02X", id, nrc)
		return
	}
	fn(Event{Ref: ref, NRC: nrc, Err: fmt.Errorf("%w: event for %s, NRC 0x%02X", diag.ErrNegativeResponse, ref.Path(), nrc)})
}

// Run calls Cycle every interval until ctx ends. A busy protocol is retried
// on the next tick; a broken or closed link ends Run with its error.
func (d *Dealer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := d.proto.Cycle()
			switch {
			case err == nil, errors.Is(err, diag.ErrBusy):
			case errors.Is(err, diag.ErrNotConfigured):
				return err
			case errors.Is(err, diag.ErrCommunication):
				d.logger.Warn("Cycle: %v, stopping", err)
				return err
			default:
				d.logger.Warn("Cycle: %v", err)
			}
		}
	}
}

// Package can holds the logical CAN frame and message/signal model consumed
// by the signal codec. Messages come either from the node configuration or
// from an imported network database.
package can

import (
	"errors"
	"fmt"
	"math"

	"github.com/tonylturner/osydiag/internal/can/signal"
)

// Identifier limits.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidDLC = errors.New("can: invalid data length")
)

// Frame is one classic CAN data frame.
type Frame struct {
	ID       uint32
	Extended bool
	DLC      uint8
	Data     signal.Payload
}

// Validate returns an error if the identifier or DLC is out of range.
func (f Frame) Validate() error {
	if f.DLC > signal.PayloadSize {
		return fmt.Errorf("%w: %d", ErrInvalidDLC, f.DLC)
	}
	limit := uint32(MaxStandardID)
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

// Signal is a named, scaled bit-field of a message.
type Signal struct {
	Name       string
	Descriptor signal.Descriptor
	Signed     bool
	Factor     float64
	Offset     float64
	Unit       string
}

func (s Signal) factor() float64 {
	if s.Factor == 0 {
		return 1
	}
	return s.Factor
}

// Physical converts a raw little-endian signal value to its scaled value.
func (s Signal) Physical(raw []byte) float64 {
	v := signal.Uint64(raw)
	var x float64
	if s.Signed {
		x = float64(signal.SignExtend(v, s.Descriptor.BitLength))
	} else {
		x = float64(v)
	}
	return x*s.factor() + s.Offset
}

// Raw converts a scaled value back to little-endian signal bytes.
func (s Signal) Raw(physical float64) []byte {
	x := math.Round((physical - s.Offset) / s.factor())
	var v uint64
	if s.Signed {
		v = uint64(int64(x))
	} else if x > 0 {
		v = uint64(x)
	}
	return signal.Bytes(v, s.Descriptor.BitLength)
}

// Message groups the signals transmitted in one CAN identifier.
type Message struct {
	Name     string
	ID       uint32
	Extended bool
	DLC      uint8
	Signals  []Signal
}

// Validate runs the frame admission check for every signal.
func (m Message) Validate() error {
	if err := (Frame{ID: m.ID, Extended: m.Extended, DLC: m.DLC}).Validate(); err != nil {
		return fmt.Errorf("message %s: %w", m.Name, err)
	}
	seen := make(map[string]bool, len(m.Signals))
	for _, s := range m.Signals {
		if s.Name == "" {
			return fmt.Errorf("message %s: signal without name", m.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("message %s: duplicate signal %s", m.Name, s.Name)
		}
		seen[s.Name] = true
		if !signal.FitsInFrame(int(m.DLC), s.Descriptor) {
			return fmt.Errorf("message %s: signal %s (%s) does not fit DLC %d: %w",
				m.Name, s.Name, s.Descriptor, m.DLC, signal.ErrSignalRange)
		}
	}
	return nil
}

// Matches reports whether the frame carries this message.
func (m Message) Matches(f Frame) bool {
	return f.ID == m.ID && f.Extended == m.Extended
}

// Decode extracts every signal of the message from the frame. Signals that
// do not fit the received DLC are skipped.
func (m Message) Decode(f Frame) (map[string]float64, error) {
	values := make(map[string]float64, len(m.Signals))
	for _, s := range m.Signals {
		if !signal.FitsInFrame(int(f.DLC), s.Descriptor) {
			continue
		}
		raw, err := signal.Extract(f.Data, s.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", m.Name, s.Name, err)
		}
		values[s.Name] = s.Physical(raw)
	}
	return values, nil
}

// Encode packs the given physical values into a new frame. Signals missing
// from values are left zero.
func (m Message) Encode(values map[string]float64) (Frame, error) {
	f := Frame{ID: m.ID, Extended: m.Extended, DLC: m.DLC}
	for name := range values {
		if _, ok := m.Signal(name); !ok {
			return Frame{}, fmt.Errorf("message %s has no signal %s", m.Name, name)
		}
	}
	for _, s := range m.Signals {
		v, ok := values[s.Name]
		if !ok {
			continue
		}
		if err := signal.Insert(&f.Data, s.Descriptor, s.Raw(v)); err != nil {
			return Frame{}, fmt.Errorf("encode %s.%s: %w", m.Name, s.Name, err)
		}
	}
	return f, nil
}

// Signal looks up a signal by name.
func (m Message) Signal(name string) (Signal, bool) {
	for _, s := range m.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return Signal{}, false
}

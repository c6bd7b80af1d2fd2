package dealer

import (
	"fmt"
	"math"
	"strings"

	"github.com/tonylturner/osydiag/internal/diag"
)

// Value is an element value in host (little-endian) byte order.
type Value struct {
	Type diag.ValueType
	raw  []byte
}

// swapOrder converts raw between from and little-endian order, one
// size-byte value at a time. The conversion is its own inverse.
func swapOrder(raw []byte, size int, from diag.Endianness) []byte {
	out := append([]byte(nil), raw...)
	if from == diag.LittleEndian || size <= 1 {
		return out
	}
	for i := 0; i+size <= len(out); i += size {
		chunk := out[i : i+size]
		for a, b := 0, size-1; a < b; a, b = a+1, b-1 {
			chunk[a], chunk[b] = chunk[b], chunk[a]
		}
	}
	return out
}

// FromProtocol builds a Value from a payload in the protocol's byte order.
func FromProtocol(t diag.ValueType, order diag.Endianness, payload []byte) (Value, error) {
	size := t.Size()
	if size == 0 {
		return Value{}, fmt.Errorf("%w: unknown value type %q", diag.ErrOutOfRange, t)
	}
	if len(payload) == 0 || len(payload)%size != 0 {
		return Value{}, fmt.Errorf("%w: %d bytes for %s", diag.ErrMalformedResponse, len(payload), t)
	}
	return Value{Type: t, raw: swapOrder(payload, size, order)}, nil
}

// NewValue encodes count values of type t. Missing values are zero.
func NewValue(t diag.ValueType, count int, values ...float64) (Value, error) {
	raw, err := diag.EncodeFloats(t, diag.LittleEndian, values, count)
	if err != nil {
		return Value{}, err
	}
	return Value{Type: t, raw: raw}, nil
}

// Protocol returns the payload in the protocol's byte order.
func (v Value) Protocol(order diag.Endianness) []byte {
	return swapOrder(v.raw, v.Type.Size(), order)
}

// Bytes returns the little-endian host bytes.
func (v Value) Bytes() []byte {
	return append([]byte(nil), v.raw...)
}

// Len returns the number of entries.
func (v Value) Len() int {
	if v.Type.Size() == 0 {
		return 0
	}
	return len(v.raw) / v.Type.Size()
}

func (v Value) bits(i int) uint64 {
	size := v.Type.Size()
	return diag.Raw(v.raw[i*size:], v.Type, diag.LittleEndian)
}

// Uint64 returns entry i as an unsigned integer.
func (v Value) Uint64(i int) uint64 {
	return v.bits(i)
}

// Int64 returns entry i as a signed integer.
func (v Value) Int64(i int) int64 {
	return int64(v.bits(i))
}

// Float64 returns entry i converted to float64.
func (v Value) Float64(i int) float64 {
	b := v.bits(i)
	switch {
	case v.Type == diag.TypeFloat32:
		return float64(math.Float32frombits(uint32(b)))
	case v.Type == diag.TypeFloat64:
		return math.Float64frombits(b)
	case v.Type.Signed():
		return float64(int64(b))
	default:
		return float64(b)
	}
}

// Floats returns every entry converted to float64.
func (v Value) Floats() []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.Float64(i)
	}
	return out
}

func (v Value) String() string {
	parts := make([]string, v.Len())
	for i := range parts {
		switch {
		case v.Type.Float():
			parts[i] = fmt.Sprintf("%g", v.Float64(i))
		case v.Type.Signed():
			parts[i] = fmt.Sprintf("%d", v.Int64(i))
		default:
			parts[i] = fmt.Sprintf("%d", v.Uint64(i))
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "[" + strings.Join(parts, " ") + "]"
}

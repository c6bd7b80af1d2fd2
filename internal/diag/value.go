package diag

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueType names the scalar type of a datapool element.
type ValueType string

const (
	TypeUint8   ValueType = "uint8"
	TypeInt8    ValueType = "int8"
	TypeUint16  ValueType = "uint16"
	TypeInt16   ValueType = "int16"
	TypeUint32  ValueType = "uint32"
	TypeInt32   ValueType = "int32"
	TypeUint64  ValueType = "uint64"
	TypeInt64   ValueType = "int64"
	TypeFloat32 ValueType = "float32"
	TypeFloat64 ValueType = "float64"
)

// Size returns the byte size of one value, or 0 for an unknown type.
func (t ValueType) Size() int {
	switch t {
	case TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8
	}
	return 0
}

// Signed reports whether the type is a signed integer.
func (t ValueType) Signed() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	}
	return false
}

// Float reports whether the type is a floating point type.
func (t ValueType) Float() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// ByteOrder returns the encoding/binary order for e.
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// PutRaw writes the low t.Size() bytes of bits into b in order e.
func PutRaw(b []byte, t ValueType, e Endianness, bits uint64) {
	order := e.ByteOrder()
	switch t.Size() {
	case 1:
		b[0] = byte(bits)
	case 2:
		order.PutUint16(b, uint16(bits))
	case 4:
		order.PutUint32(b, uint32(bits))
	case 8:
		order.PutUint64(b, bits)
	}
}

// Raw reads one value of type t from b in order e. Signed types are sign
// extended to 64 bits.
func Raw(b []byte, t ValueType, e Endianness) uint64 {
	order := e.ByteOrder()
	switch t {
	case TypeUint8:
		return uint64(b[0])
	case TypeInt8:
		return uint64(int64(int8(b[0])))
	case TypeUint16:
		return uint64(order.Uint16(b))
	case TypeInt16:
		return uint64(int64(int16(order.Uint16(b))))
	case TypeUint32, TypeFloat32:
		return uint64(order.Uint32(b))
	case TypeInt32:
		return uint64(int64(int32(order.Uint32(b))))
	}
	return order.Uint64(b)
}

// EncodeFloats encodes count values of type t. Missing values are zero;
// integer values are rounded and must fit the type.
func EncodeFloats(t ValueType, e Endianness, values []float64, count int) ([]byte, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: unknown value type %q", ErrOutOfRange, t)
	}
	if len(values) > count {
		return nil, fmt.Errorf("%w: %d values for %d entries", ErrOutOfRange, len(values), count)
	}
	out := make([]byte, size*count)
	for i, v := range values {
		bits, err := floatBits(t, v)
		if err != nil {
			return nil, err
		}
		PutRaw(out[i*size:], t, e, bits)
	}
	return out, nil
}

// DecodeFloats decodes raw into float64 values of type t.
func DecodeFloats(t ValueType, e Endianness, raw []byte) ([]float64, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: unknown value type %q", ErrOutOfRange, t)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %s", ErrMalformedResponse, len(raw), t)
	}
	out := make([]float64, len(raw)/size)
	for i := range out {
		bits := Raw(raw[i*size:], t, e)
		switch {
		case t == TypeFloat32:
			out[i] = float64(math.Float32frombits(uint32(bits)))
		case t == TypeFloat64:
			out[i] = math.Float64frombits(bits)
		case t.Signed():
			out[i] = float64(int64(bits))
		default:
			out[i] = float64(bits)
		}
	}
	return out, nil
}

func floatBits(t ValueType, v float64) (uint64, error) {
	switch t {
	case TypeFloat32:
		return uint64(math.Float32bits(float32(v))), nil
	case TypeFloat64:
		return math.Float64bits(v), nil
	}
	r := math.Round(v)
	bits := uint(t.Size() * 8)
	if t.Signed() {
		limit := math.Ldexp(1, int(bits)-1)
		if r < -limit || r >= limit {
			return 0, fmt.Errorf("%w: %v does not fit %s", ErrOutOfRange, v, t)
		}
		return uint64(int64(r)), nil
	}
	if r < 0 || r >= math.Ldexp(1, int(bits)) {
		return 0, fmt.Errorf("%w: %v does not fit %s", ErrOutOfRange, v, t)
	}
	return uint64(r), nil
}

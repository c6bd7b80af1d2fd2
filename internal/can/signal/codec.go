package signal

// Bit-field extraction and insertion for classic 8-byte CAN payloads.

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PayloadSize is the data section length of a classic CAN frame.
const PayloadSize = 8

const payloadBits = PayloadSize * 8

// Payload is the raw data section of one CAN frame.
type Payload [PayloadSize]byte

// ByteOrder selects how a signal is laid out inside the payload.
type ByteOrder uint8

const (
	// Intel signals are little-endian: bit n of the signal sits at payload bit StartBit+n.
	Intel ByteOrder = iota
	// Motorola signals are big-endian: StartBit is the MSB and the signal
	// continues at bit 7 of the next payload byte after crossing bit 0.
	Motorola
)

func (o ByteOrder) String() string {
	switch o {
	case Intel:
		return "intel"
	case Motorola:
		return "motorola"
	default:
		return fmt.Sprintf("byte_order(%d)", uint8(o))
	}
}

var (
	// ErrSignalRange is returned when a descriptor references bits outside the payload.
	ErrSignalRange = errors.New("signal: bit range outside payload")
	// ErrValueLength is returned when an inserted value has fewer bytes than the signal needs.
	ErrValueLength = errors.New("signal: value shorter than signal")
)

// Descriptor identifies one bit-field inside a CAN payload.
type Descriptor struct {
	StartBit  uint16
	BitLength uint16
	ByteOrder ByteOrder
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s start=%d len=%d", d.ByteOrder, d.StartBit, d.BitLength)
}

// LengthBytes returns the number of value bytes the signal decodes to.
func (d Descriptor) LengthBytes() int {
	return int(d.BitLength+7) / 8
}

// DataBytesBitPosOfSignalBit maps bit n of a Motorola signal (counted from
// its MSB at startBit toward the LSB) to a payload bit index. The result may
// exceed 63 for signals that run off the end of the payload.
func DataBytesBitPosOfSignalBit(startBit, n uint16) uint16 {
	bitsLeftInByte := startBit%8 + 1
	if n < bitsLeftInByte {
		return startBit - n
	}
	rest := n - bitsLeftInByte
	byteIndex := startBit/8 + 1 + rest/8
	return byteIndex*8 + 7 - rest%8
}

// DataBytesBitPos maps bit n of the signal to its payload bit index using
// the descriptor's own start bit and byte order.
func (d Descriptor) DataBytesBitPos(n uint16) uint16 {
	if d.ByteOrder == Motorola {
		return DataBytesBitPosOfSignalBit(d.StartBit, n)
	}
	return d.StartBit + n
}

// FitsInFrame reports whether every bit of the signal lies within the first
// dlc bytes of a payload.
func FitsInFrame(dlc int, d Descriptor) bool {
	if d.BitLength == 0 || d.BitLength > payloadBits || d.StartBit >= payloadBits {
		return false
	}
	// The last signal bit is in the highest payload byte for both orders.
	last := d.DataBytesBitPos(d.BitLength - 1)
	if last >= payloadBits {
		return false
	}
	return int(last/8)+1 <= dlc
}

// Validate checks that the descriptor fits an 8-byte payload.
func (d Descriptor) Validate() error {
	if !FitsInFrame(PayloadSize, d) {
		return fmt.Errorf("%w: %s", ErrSignalRange, d)
	}
	return nil
}

// Extract reads the signal from the payload and returns its value as
// little-endian bytes, independent of the on-wire byte order. Bits above
// the signal's MSB in the last value byte are zero.
func Extract(p Payload, d Descriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return Bytes(rawValue(p, d), d.BitLength), nil
}

// Insert ORs the little-endian value into the signal's bits. Bits that do
// not belong to the signal are left untouched, so several signals sharing a
// byte can be packed one after another.
func Insert(p *Payload, d Descriptor, value []byte) error {
	if err := d.Validate(); err != nil {
		return err
	}
	n := d.LengthBytes()
	if len(value) < n {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrValueLength, n, len(value))
	}
	raw := Uint64(value[:n]) & mask(d.BitLength)

	if d.ByteOrder == Motorola {
		word := binary.BigEndian.Uint64(p[:])
		binary.BigEndian.PutUint64(p[:], word|raw<<motorolaShift(d))
		return nil
	}
	word := binary.LittleEndian.Uint64(p[:])
	binary.LittleEndian.PutUint64(p[:], word|raw<<d.StartBit)
	return nil
}

func rawValue(p Payload, d Descriptor) uint64 {
	if d.ByteOrder == Motorola {
		return (binary.BigEndian.Uint64(p[:]) >> motorolaShift(d)) & mask(d.BitLength)
	}
	return (binary.LittleEndian.Uint64(p[:]) >> d.StartBit) & mask(d.BitLength)
}

// motorolaShift returns the bit index of the signal's LSB inside the payload
// read as one big-endian word. Motorola signals are contiguous in that word.
func motorolaShift(d Descriptor) uint16 {
	lsb := d.DataBytesBitPos(d.BitLength - 1)
	return (7-lsb/8)*8 + lsb%8
}

func mask(bits uint16) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

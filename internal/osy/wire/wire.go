package wire

// openSYDE service vocabulary: service identifiers, negative response codes
// and the packed datapool element address.

import (
	"encoding/binary"
	"fmt"

	"github.com/tonylturner/osydiag/internal/diag"
)

// Service identifiers.
const (
	SIDWriteDataByIdentifier = 0x2E
	SIDReadMemoryByAddress   = 0x23
	SIDRoutineControl        = 0x31
	SIDWriteMemoryByAddress  = 0x3D
	SIDReadDataPoolData      = 0xBA
	SIDWriteDataPoolData     = 0xBB
	SIDReadDataPoolEvent     = 0xBC
	SIDNegativeResponse      = 0x7F

	PositiveResponseOffset = 0x40
)

// Event-driven sub-functions of SIDReadDataPoolEvent.
const (
	EventStop         = 0x00
	EventCyclic       = 0x01
	EventChangeDriven = 0x02
	EventPushFlag     = 0x80
)

// Routine identifiers used with SIDRoutineControl.
const (
	RoutineStart = 0x01

	RIDNotifyNvmChanged  = 0x0214
	RIDVerifyDataPool    = 0x0215
	RIDDataPoolMetaData  = 0x0216
	DIDEventRailBase     = 0xA811
	MemoryAddressFormat  = 0x24
	MaxMemoryRequestSize = 0xFFFF
)

// Negative response codes.
const (
	NRCGeneralReject                = 0x10
	NRCServiceNotSupported          = 0x11
	NRCSubFunctionNotSupported      = 0x12
	NRCIncorrectLength              = 0x13
	NRCResponseTooLong              = 0x14
	NRCConditionsNotCorrect         = 0x22
	NRCRequestSequenceError         = 0x24
	NRCRequestOutOfRange            = 0x31
	NRCSecurityAccessDenied         = 0x33
	NRCGeneralProgrammingFailure    = 0x72
	NRCResponsePending              = 0x78
	NRCServiceNotSupportedInSession = 0x7F
)

var nrcNames = map[uint8]string{
	NRCGeneralReject:                "general reject",
	NRCServiceNotSupported:          "service not supported",
	NRCSubFunctionNotSupported:      "sub-function not supported",
	NRCIncorrectLength:              "incorrect message length or format",
	NRCResponseTooLong:              "response too long",
	NRCConditionsNotCorrect:         "conditions not correct",
	NRCRequestSequenceError:         "request sequence error",
	NRCRequestOutOfRange:            "request out of range",
	NRCSecurityAccessDenied:         "security access denied",
	NRCGeneralProgrammingFailure:    "general programming failure",
	NRCResponsePending:              "response pending",
	NRCServiceNotSupportedInSession: "service not supported in active session",
}

// NRCName returns a readable name for a negative response code.
func NRCName(code uint8) string {
	if name, ok := nrcNames[code]; ok {
		return name
	}
	return fmt.Sprintf("NRC 0x%02X", code)
}

// Packed element id limits.
const (
	MaxDataPool  = 0x1F
	MaxList      = 0x7F
	MaxElement   = 0x7FF
	ElementIDLen = 3
)

// PackElementID encodes id as dp(5) | list(7) | element(11), big-endian.
func PackElementID(id diag.ElementID) ([]byte, error) {
	if id.DataPool > MaxDataPool || id.List > MaxList || id.Element > MaxElement {
		return nil, fmt.Errorf("%w: element %s", diag.ErrOutOfRange, id)
	}
	v := uint32(id.DataPool)<<18 | uint32(id.List)<<11 | uint32(id.Element)
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}, nil
}

// UnpackElementID decodes a 3-byte packed element id.
func UnpackElementID(b []byte) (diag.ElementID, error) {
	if len(b) < ElementIDLen {
		return diag.ElementID{}, fmt.Errorf("%w: element id needs %d bytes, got %d",
			diag.ErrMalformedResponse, ElementIDLen, len(b))
	}
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return diag.ElementID{
		DataPool: uint8(v>>18) & MaxDataPool,
		List:     uint16(v>>11) & MaxList,
		Element:  uint16(v) & MaxElement,
	}, nil
}

func checkRail(rail uint8) error {
	if rail >= diag.RailCount {
		return fmt.Errorf("%w: rail %d", diag.ErrOutOfRange, rail)
	}
	return nil
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

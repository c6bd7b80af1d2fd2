package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tonylturner/osydiag/internal/diag"
)

// Kind classifies a received PDU.
type Kind int

const (
	KindResponse Kind = iota
	KindEvent
	KindEventError
)

// Classify tells event pushes and event errors apart from responses to
// synchronous requests.
func Classify(pdu []byte) Kind {
	switch {
	case len(pdu) >= 2 && pdu[0] == SIDReadDataPoolEvent+PositiveResponseOffset && pdu[1]&EventPushFlag != 0:
		return KindEvent
	case len(pdu) == 3+ElementIDLen && pdu[0] == SIDNegativeResponse && pdu[1] == SIDReadDataPoolEvent:
		return KindEventError
	default:
		return KindResponse
	}
}

// echoLen is the number of request bytes after the SID that a positive
// response repeats.
func echoLen(req []byte) int {
	n := 0
	switch req[0] {
	case SIDReadDataPoolData, SIDWriteDataPoolData, SIDRoutineControl:
		n = 3
	case SIDReadDataPoolEvent:
		n = 5
	case SIDWriteDataByIdentifier:
		n = 2
	case SIDWriteMemoryByAddress:
		n = 7
	}
	if n > len(req)-1 {
		n = len(req) - 1
	}
	return n
}

// Answers reports whether resp is a positive or negative response to req.
// Positive responses must repeat the echoed request bytes, so a late answer
// to an earlier request of the same service is not taken for this one.
func Answers(req, resp []byte) bool {
	if len(req) == 0 || len(resp) == 0 {
		return false
	}
	if resp[0] == req[0]+PositiveResponseOffset {
		n := echoLen(req)
		return len(resp) > n && bytes.Equal(resp[1:1+n], req[1:1+n])
	}
	return len(resp) == 3 && resp[0] == SIDNegativeResponse && resp[1] == req[0]
}

// IsResponsePending reports whether resp is an NRC 0x78 interim answer.
func IsResponsePending(resp []byte) bool {
	return len(resp) == 3 && resp[0] == SIDNegativeResponse && resp[2] == NRCResponsePending
}

// CheckNegative converts a negative response into a *diag.NegativeResponseError.
func CheckNegative(resp []byte) error {
	if len(resp) >= 3 && resp[0] == SIDNegativeResponse {
		return &diag.NegativeResponseError{Service: resp[1], Code: resp[2]}
	}
	return nil
}

// Request builders.

func ReadElementRequest(id diag.ElementID) ([]byte, error) {
	packed, err := PackElementID(id)
	if err != nil {
		return nil, err
	}
	return append([]byte{SIDReadDataPoolData}, packed...), nil
}

func WriteElementRequest(id diag.ElementID, data []byte) ([]byte, error) {
	packed, err := PackElementID(id)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty element value", diag.ErrOutOfRange)
	}
	pdu := append([]byte{SIDWriteDataPoolData}, packed...)
	return append(pdu, data...), nil
}

func CyclicRequest(id diag.ElementID, rail uint8) ([]byte, error) {
	if err := checkRail(rail); err != nil {
		return nil, err
	}
	packed, err := PackElementID(id)
	if err != nil {
		return nil, err
	}
	return append([]byte{SIDReadDataPoolEvent, EventCyclic, rail}, packed...), nil
}

func ChangeDrivenRequest(id diag.ElementID, rail uint8, threshold uint32) ([]byte, error) {
	if err := checkRail(rail); err != nil {
		return nil, err
	}
	packed, err := PackElementID(id)
	if err != nil {
		return nil, err
	}
	pdu := append([]byte{SIDReadDataPoolEvent, EventChangeDriven, rail}, packed...)
	return append(pdu, u32(threshold)...), nil
}

func StopEventDrivenRequest() []byte {
	return []byte{SIDReadDataPoolEvent, EventStop}
}

func SetRailRateRequest(rail uint8, intervalMs uint16) ([]byte, error) {
	if err := checkRail(rail); err != nil {
		return nil, err
	}
	if intervalMs == 0 {
		return nil, fmt.Errorf("%w: rail interval must be positive", diag.ErrOutOfRange)
	}
	pdu := append([]byte{SIDWriteDataByIdentifier}, u16(DIDEventRailBase+uint16(rail))...)
	return append(pdu, u16(intervalMs)...), nil
}

func NvmReadRequest(address uint32, size int) ([]byte, error) {
	if size <= 0 || size > MaxMemoryRequestSize {
		return nil, fmt.Errorf("%w: NVM read size %d", diag.ErrOutOfRange, size)
	}
	pdu := append([]byte{SIDReadMemoryByAddress, MemoryAddressFormat}, u32(address)...)
	return append(pdu, u16(uint16(size))...), nil
}

func NvmWriteRequest(address uint32, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > MaxMemoryRequestSize {
		return nil, fmt.Errorf("%w: NVM write size %d", diag.ErrOutOfRange, len(data))
	}
	pdu := append([]byte{SIDWriteMemoryByAddress, MemoryAddressFormat}, u32(address)...)
	pdu = append(pdu, u16(uint16(len(data)))...)
	return append(pdu, data...), nil
}

func routineRequest(rid uint16, dataPool uint8, extra ...byte) ([]byte, error) {
	if dataPool > MaxDataPool {
		return nil, fmt.Errorf("%w: datapool %d", diag.ErrOutOfRange, dataPool)
	}
	pdu := append([]byte{SIDRoutineControl, RoutineStart}, u16(rid)...)
	pdu = append(pdu, dataPool)
	return append(pdu, extra...), nil
}

func MetaDataRequest(dataPool uint8) ([]byte, error) {
	return routineRequest(RIDDataPoolMetaData, dataPool)
}

func VerifyRequest(dataPool uint8, checksum uint32) ([]byte, error) {
	return routineRequest(RIDVerifyDataPool, dataPool, u32(checksum)...)
}

func NotifyNvmChangedRequest(dataPool uint8, list uint16) ([]byte, error) {
	if list > MaxList {
		return nil, fmt.Errorf("%w: list %d", diag.ErrOutOfRange, list)
	}
	return routineRequest(RIDNotifyNvmChanged, dataPool, uint8(list))
}

// Response parsers. Each expects a positive response; negative responses are
// handled by the caller through CheckNegative.

func malformed(format string, v ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{diag.ErrMalformedResponse}, v...)...)
}

func expectPrefix(resp, prefix []byte) error {
	if len(resp) < len(prefix) || !bytes.Equal(resp[:len(prefix)], prefix) {
		return malformed("expected prefix % X, got % X", prefix, resp)
	}
	return nil
}

// ParseReadElementResponse returns the element value of an FA response.
func ParseReadElementResponse(resp []byte, id diag.ElementID) ([]byte, error) {
	packed, err := PackElementID(id)
	if err != nil {
		return nil, err
	}
	prefix := append([]byte{SIDReadDataPoolData + PositiveResponseOffset}, packed...)
	if err := expectPrefix(resp, prefix); err != nil {
		return nil, err
	}
	return append([]byte(nil), resp[len(prefix):]...), nil
}

// ExpectEcho checks that resp is the positive response to req and echoes the
// first n request bytes after the service identifier.
func ExpectEcho(req, resp []byte, n int) error {
	if n > len(req)-1 {
		n = len(req) - 1
	}
	prefix := append([]byte{req[0] + PositiveResponseOffset}, req[1:1+n]...)
	if err := expectPrefix(resp, prefix); err != nil {
		return err
	}
	if len(resp) != len(prefix) {
		return malformed("unexpected %d trailing bytes", len(resp)-len(prefix))
	}
	return nil
}

// ParseNvmReadResponse returns the memory contents of a 63 response.
func ParseNvmReadResponse(resp []byte) ([]byte, error) {
	if err := expectPrefix(resp, []byte{SIDReadMemoryByAddress + PositiveResponseOffset}); err != nil {
		return nil, err
	}
	return append([]byte(nil), resp[1:]...), nil
}

func routineResult(resp []byte, rid uint16) ([]byte, error) {
	prefix := append([]byte{SIDRoutineControl + PositiveResponseOffset, RoutineStart}, u16(rid)...)
	if err := expectPrefix(resp, prefix); err != nil {
		return nil, err
	}
	return resp[len(prefix):], nil
}

// ParseMetaDataResponse returns the datapool version and name.
func ParseMetaDataResponse(resp []byte) (diag.Version, string, error) {
	rest, err := routineResult(resp, RIDDataPoolMetaData)
	if err != nil {
		return diag.Version{}, "", err
	}
	if len(rest) < diag.VersionBytes+1 {
		return diag.Version{}, "", malformed("metadata too short: %d bytes", len(rest))
	}
	var v diag.Version
	copy(v[:], rest[:diag.VersionBytes])
	nameLen := int(rest[diag.VersionBytes])
	name := rest[diag.VersionBytes+1:]
	if len(name) != nameLen {
		return diag.Version{}, "", malformed("name length %d, got %d bytes", nameLen, len(name))
	}
	return v, string(name), nil
}

func parseFlag(resp []byte, rid uint16) (bool, error) {
	rest, err := routineResult(resp, rid)
	if err != nil {
		return false, err
	}
	if len(rest) != 1 {
		return false, malformed("routine 0x%04X result has %d bytes", rid, len(rest))
	}
	return rest[0] != 0, nil
}

// ParseVerifyResponse returns the checksum match flag.
func ParseVerifyResponse(resp []byte) (bool, error) {
	return parseFlag(resp, RIDVerifyDataPool)
}

// ParseNotifyNvmChangedResponse returns the application acknowledge flag.
func ParseNotifyNvmChangedResponse(resp []byte) (bool, error) {
	return parseFlag(resp, RIDNotifyNvmChanged)
}

// Event is a decoded asynchronous push.
type Event struct {
	Rail  uint8
	ID    diag.ElementID
	Value []byte
}

// ParseEvent decodes an FC 8x push.
func ParseEvent(pdu []byte) (Event, error) {
	if Classify(pdu) != KindEvent || len(pdu) < 2+ElementIDLen {
		return Event{}, malformed("not an event push: % X", pdu)
	}
	id, err := UnpackElementID(pdu[2:])
	if err != nil {
		return Event{}, err
	}
	return Event{
		Rail:  pdu[1] &^ EventPushFlag,
		ID:    id,
		Value: append([]byte(nil), pdu[2+ElementIDLen:]...),
	}, nil
}

// ParseEventError decodes a 7F BC nrc id event error.
func ParseEventError(pdu []byte) (diag.ElementID, uint8, error) {
	if Classify(pdu) != KindEventError {
		return diag.ElementID{}, 0, malformed("not an event error: % X", pdu)
	}
	id, err := UnpackElementID(pdu[3:])
	return id, pdu[2], err
}

// Server side builders.

// Positive builds a positive response to service sid.
func Positive(sid uint8, payload ...byte) []byte {
	return append([]byte{sid + PositiveResponseOffset}, payload...)
}

// Negative builds a negative response.
func Negative(sid, nrc uint8) []byte {
	return []byte{SIDNegativeResponse, sid, nrc}
}

// EventPDU builds an asynchronous push for one element.
func EventPDU(rail uint8, id diag.ElementID, value []byte) ([]byte, error) {
	packed, err := PackElementID(id)
	if err != nil {
		return nil, err
	}
	pdu := append([]byte{SIDReadDataPoolEvent + PositiveResponseOffset, EventPushFlag | rail}, packed...)
	return append(pdu, value...), nil
}

// EventErrorPDU builds an asynchronous event error.
func EventErrorPDU(id diag.ElementID, nrc uint8) ([]byte, error) {
	packed, err := PackElementID(id)
	if err != nil {
		return nil, err
	}
	return append([]byte{SIDNegativeResponse, SIDReadDataPoolEvent, nrc}, packed...), nil
}

// MetaDataPayload builds the routine result of a metadata request.
func MetaDataPayload(v diag.Version, name string) []byte {
	if len(name) > 0xFF {
		name = name[:0xFF]
	}
	out := append([]byte{RoutineStart}, u16(RIDDataPoolMetaData)...)
	out = append(out, v[:]...)
	out = append(out, byte(len(name)))
	return append(out, name...)
}

// RoutineFlagPayload builds a one-byte routine result.
func RoutineFlagPayload(rid uint16, flag bool) []byte {
	out := append([]byte{RoutineStart}, u16(rid)...)
	if flag {
		return append(out, 1)
	}
	return append(out, 0)
}

// Uint16 and Uint32 read big-endian request fields.
func Uint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

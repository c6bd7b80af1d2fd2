package server

import (
	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/osy/wire"
)

// handle answers one request PDU. It never returns nil: unsupported or
// malformed requests get a negative response.
func (s *session) handle(req []byte) []byte {
	if len(req) == 0 {
		return wire.Negative(0, wire.NRCIncorrectLength)
	}
	sid := req[0]
	switch sid {
	case wire.SIDReadDataPoolData:
		return s.handleReadElement(req)
	case wire.SIDWriteDataPoolData:
		return s.handleWriteElement(req)
	case wire.SIDReadDataPoolEvent:
		return s.handleEvent(req)
	case wire.SIDWriteDataByIdentifier:
		return s.handleRailRate(req)
	case wire.SIDReadMemoryByAddress:
		return s.handleNvmRead(req)
	case wire.SIDWriteMemoryByAddress:
		return s.handleNvmWrite(req)
	case wire.SIDRoutineControl:
		return s.handleRoutine(req)
	default:
		return wire.Negative(sid, wire.NRCServiceNotSupported)
	}
}

func (s *session) handleReadElement(req []byte) []byte {
	if len(req) != 1+wire.ElementIDLen {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	id, _ := wire.UnpackElementID(req[1:])
	value, code := s.node.ReadElement(id)
	if code != 0 {
		return wire.Negative(req[0], code)
	}
	return wire.Positive(req[0], append(req[1:1+wire.ElementIDLen:1+wire.ElementIDLen], value...)...)
}

func (s *session) handleWriteElement(req []byte) []byte {
	if len(req) < 2+wire.ElementIDLen {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	id, _ := wire.UnpackElementID(req[1:])
	if code := s.node.WriteElement(id, req[1+wire.ElementIDLen:]); code != 0 {
		return wire.Negative(req[0], code)
	}
	return wire.Positive(req[0], req[1:1+wire.ElementIDLen]...)
}

func (s *session) handleEvent(req []byte) []byte {
	if len(req) < 2 {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	switch req[1] {
	case wire.EventStop:
		if len(req) != 2 {
			return wire.Negative(req[0], wire.NRCIncorrectLength)
		}
		s.rails.stop()
		return wire.Positive(req[0], wire.EventStop)

	case wire.EventCyclic, wire.EventChangeDriven:
		want := 3 + wire.ElementIDLen
		if req[1] == wire.EventChangeDriven {
			want += 4
		}
		if len(req) != want {
			return wire.Negative(req[0], wire.NRCIncorrectLength)
		}
		rail := req[2]
		if rail >= diag.RailCount {
			return wire.Negative(req[0], wire.NRCRequestOutOfRange)
		}
		id, _ := wire.UnpackElementID(req[3:])
		if _, code := s.node.ReadElement(id); code != 0 {
			return wire.Negative(req[0], code)
		}
		sub := &subscription{id: id, rail: rail}
		if req[1] == wire.EventChangeDriven {
			sub.changeDriven = true
			sub.threshold = wire.Uint32(req[3+wire.ElementIDLen:])
		}
		s.rails.add(sub)
		return wire.Positive(req[0], req[1:3+wire.ElementIDLen]...)

	default:
		return wire.Negative(req[0], wire.NRCSubFunctionNotSupported)
	}
}

func (s *session) handleRailRate(req []byte) []byte {
	if len(req) != 5 {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	did := wire.Uint16(req[1:])
	if did < wire.DIDEventRailBase || did >= wire.DIDEventRailBase+diag.RailCount {
		return wire.Negative(req[0], wire.NRCRequestOutOfRange)
	}
	ms := wire.Uint16(req[3:])
	if ms == 0 {
		return wire.Negative(req[0], wire.NRCRequestOutOfRange)
	}
	s.rails.setRate(uint8(did-wire.DIDEventRailBase), ms)
	return wire.Positive(req[0], req[1:3]...)
}

func (s *session) handleNvmRead(req []byte) []byte {
	if len(req) != 8 {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	if req[1] != wire.MemoryAddressFormat {
		return wire.Negative(req[0], wire.NRCRequestOutOfRange)
	}
	data, code := s.node.ReadNvm(wire.Uint32(req[2:]), int(wire.Uint16(req[6:])))
	if code != 0 {
		return wire.Negative(req[0], code)
	}
	return wire.Positive(req[0], data...)
}

func (s *session) handleNvmWrite(req []byte) []byte {
	if len(req) < 9 {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	if req[1] != wire.MemoryAddressFormat {
		return wire.Negative(req[0], wire.NRCRequestOutOfRange)
	}
	size := int(wire.Uint16(req[6:]))
	if len(req) != 8+size {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	if code := s.node.WriteNvm(wire.Uint32(req[2:]), req[8:]); code != 0 {
		return wire.Negative(req[0], code)
	}
	return wire.Positive(req[0], req[1:8]...)
}

func (s *session) handleRoutine(req []byte) []byte {
	if len(req) < 5 {
		return wire.Negative(req[0], wire.NRCIncorrectLength)
	}
	if req[1] != wire.RoutineStart {
		return wire.Negative(req[0], wire.NRCSubFunctionNotSupported)
	}
	dp := req[4]
	switch wire.Uint16(req[2:]) {
	case wire.RIDDataPoolMetaData:
		if len(req) != 5 {
			return wire.Negative(req[0], wire.NRCIncorrectLength)
		}
		version, name, code := s.node.MetaData(dp)
		if code != 0 {
			return wire.Negative(req[0], code)
		}
		return wire.Positive(req[0], wire.MetaDataPayload(version, name)...)

	case wire.RIDVerifyDataPool:
		if len(req) != 9 {
			return wire.Negative(req[0], wire.NRCIncorrectLength)
		}
		match, code := s.node.Verify(dp, wire.Uint32(req[5:]))
		if code != 0 {
			return wire.Negative(req[0], code)
		}
		return wire.Positive(req[0], wire.RoutineFlagPayload(wire.RIDVerifyDataPool, match)...)

	case wire.RIDNotifyNvmChanged:
		if len(req) != 6 {
			return wire.Negative(req[0], wire.NRCIncorrectLength)
		}
		ack, code := s.node.NotifyNvmChanged(dp, uint16(req[5]))
		if code != 0 {
			return wire.Negative(req[0], code)
		}
		return wire.Positive(req[0], wire.RoutineFlagPayload(wire.RIDNotifyNvmChanged, ack)...)

	default:
		return wire.Negative(req[0], wire.NRCRequestOutOfRange)
	}
}

// Package diag defines the protocol-agnostic diagnostic service contract used
// by data dealers and the CLI. Concrete protocols (openSYDE) implement
// Protocol; callers hold the interface, never the concrete driver.
package diag

import (
	"context"
	"fmt"
)

// Endianness is the byte order a protocol uses for element payloads.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// Rail counts and limits.
const (
	RailCount    = 3
	RailSlow     = 0
	RailMedium   = 1
	RailFast     = 2
	VersionBytes = 3
)

// ElementID addresses one element of a node's datapools.
type ElementID struct {
	DataPool uint8
	List     uint16
	Element  uint16
}

func (id ElementID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.DataPool, id.List, id.Element)
}

// Version is a Major.Minor.Release triple.
type Version [VersionBytes]uint8

func (v Version) String() string {
	return fmt.Sprintf("v%02d.%02dr%02d", v[0], v[1], v[2])
}

// Semver renders the version as MAJOR.MINOR.PATCH.
func (v Version) Semver() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// ReadEventFunc receives pushed element values.
type ReadEventFunc func(id ElementID, value []byte)

// ReadEventErrorFunc receives negative responses to event-driven transmissions.
type ReadEventErrorFunc func(id ElementID, nrc uint8)

// Protocol is the capability set every diagnostic protocol provides.
//
// Payloads are passed through in the protocol's byte order as reported by
// Endianness; implementations never swap them.
type Protocol interface {
	Endianness() Endianness

	// Initialize registers the asynchronous event callbacks. Either may be nil.
	Initialize(onEvent ReadEventFunc, onError ReadEventErrorFunc)

	// Cycle performs one non-blocking pass over received frames and
	// dispatches asynchronous events. It returns ErrBusy without doing any
	// work when a synchronous exchange holds the channel.
	Cycle() error

	DataPoolReadNumeric(ctx context.Context, id ElementID, size int) ([]byte, error)
	DataPoolReadArray(ctx context.Context, id ElementID, size int) ([]byte, error)
	DataPoolWriteNumeric(ctx context.Context, id ElementID, data []byte) error
	DataPoolWriteArray(ctx context.Context, id ElementID, data []byte) error

	DataPoolSetEventDataRate(ctx context.Context, rail uint8, intervalMs uint16) error
	DataPoolReadCyclic(ctx context.Context, id ElementID, rail uint8) error
	DataPoolReadChangeDriven(ctx context.Context, id ElementID, rail uint8, threshold uint32) error
	DataPoolStopEventDriven(ctx context.Context) error

	NvmRead(ctx context.Context, address uint32, size int) ([]byte, error)
	NvmWriteStartTransaction(ctx context.Context) error
	NvmWrite(ctx context.Context, address uint32, data []byte) error
	NvmWriteFinalizeTransaction(ctx context.Context) error

	DataPoolReadVersion(ctx context.Context, dataPool uint8) (Version, error)
	DataPoolReadMetaData(ctx context.Context, dataPool uint8) (Version, string, error)
	DataPoolVerify(ctx context.Context, dataPool uint8, elementCount uint16, version Version, checksum uint32) (bool, error)
	NvmNotifyOfChanges(ctx context.Context, dataPool uint8, list uint16) (bool, error)
}

package server

import (
	"fmt"
	"sync"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/osy/wire"
)

// NvmChange records one NVM change notification received from a tester.
type NvmChange struct {
	DataPool uint8
	List     uint16
}

// Node holds the live state of a simulated openSYDE node: element values of
// RAM datapools, the NVM image backing NVM datapools, and the notifications
// the tester sent after NVM writes.
type Node struct {
	mu        sync.Mutex
	model     config.NodeConfig
	ram       map[diag.ElementID][]byte
	nvm       []byte
	versions  []diag.Version
	checksums []uint32
	changes   []NvmChange
}

// NewNode builds the node state from a validated model and loads the initial
// element values.
func NewNode(model config.NodeConfig) (*Node, error) {
	size := model.NvmSize
	if size <= 0 {
		size = config.DefaultNvmSize
	}
	n := &Node{
		model: model,
		ram:   make(map[diag.ElementID][]byte),
		nvm:   make([]byte, size),
	}

	for d, dp := range model.DataPools {
		v, err := config.ParseVersion(dp.Version)
		if err != nil {
			return nil, fmt.Errorf("datapool %s: %w", dp.Name, err)
		}
		n.versions = append(n.versions, v)
		n.checksums = append(n.checksums, config.DataPoolChecksum(dp))

		for l, list := range dp.Lists {
			for e, el := range list.Elements {
				id := diag.ElementID{DataPool: uint8(d), List: uint16(l), Element: uint16(e)}
				raw, err := diag.EncodeFloats(el.ValueType(), diag.BigEndian, el.Initial, el.Count())
				if err != nil {
					return nil, fmt.Errorf("element %s.%s.%s: %w", dp.Name, list.Name, el.Name, err)
				}
				if err := n.store(id, raw); err != nil {
					return nil, err
				}
			}
		}
	}
	return n, nil
}

// slot returns the backing bytes of an element. The caller holds mu.
func (n *Node) slot(id diag.ElementID) ([]byte, bool) {
	ref, err := n.model.Element(id)
	if err != nil {
		return nil, false
	}
	if !ref.DataPool.Nvm {
		v, ok := n.ram[id]
		if !ok {
			v = make([]byte, ref.Element.Size())
			n.ram[id] = v
		}
		return v, true
	}
	start := int(ref.NvmAddress())
	end := start + ref.Element.Size()
	if end > len(n.nvm) {
		return nil, false
	}
	return n.nvm[start:end], true
}

func (n *Node) store(id diag.ElementID, raw []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	dst, ok := n.slot(id)
	if !ok {
		return fmt.Errorf("%w: element %s", diag.ErrOutOfRange, id)
	}
	copy(dst, raw)
	return nil
}

// ReadElement returns a copy of the element value or a negative response code.
func (n *Node) ReadElement(id diag.ElementID) ([]byte, uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.slot(id)
	if !ok {
		return nil, wire.NRCRequestOutOfRange
	}
	return append([]byte(nil), v...), 0
}

// WriteElement stores a new element value. The value must have exactly the
// element's size.
func (n *Node) WriteElement(id diag.ElementID, data []byte) uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.slot(id)
	if !ok {
		return wire.NRCRequestOutOfRange
	}
	if len(data) != len(v) {
		return wire.NRCIncorrectLength
	}
	copy(v, data)
	return 0
}

// Set changes an element value from the simulation side. It is how a running
// application would update its measurements.
func (n *Node) Set(id diag.ElementID, data []byte) error {
	if code := n.WriteElement(id, data); code != 0 {
		return fmt.Errorf("set %s: %w", id, &diag.NegativeResponseError{Service: wire.SIDWriteDataPoolData, Code: code})
	}
	return nil
}

func (n *Node) nvmRange(address uint32, size int) (int, int, bool) {
	start := int64(address)
	end := start + int64(size)
	if size <= 0 || end > int64(len(n.nvm)) {
		return 0, 0, false
	}
	return int(start), int(end), true
}

// ReadNvm returns size bytes of the NVM image starting at address.
func (n *Node) ReadNvm(address uint32, size int) ([]byte, uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	start, end, ok := n.nvmRange(address, size)
	if !ok {
		return nil, wire.NRCRequestOutOfRange
	}
	return append([]byte(nil), n.nvm[start:end]...), 0
}

// WriteNvm writes data into the NVM image at address.
func (n *Node) WriteNvm(address uint32, data []byte) uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	start, end, ok := n.nvmRange(address, len(data))
	if !ok {
		return wire.NRCRequestOutOfRange
	}
	copy(n.nvm[start:end], data)
	return 0
}

// MetaData returns the version and name of a datapool.
func (n *Node) MetaData(dataPool uint8) (diag.Version, string, uint8) {
	if int(dataPool) >= len(n.model.DataPools) {
		return diag.Version{}, "", wire.NRCRequestOutOfRange
	}
	return n.versions[dataPool], n.model.DataPools[dataPool].Name, 0
}

// Verify compares checksum with the datapool's checksum.
func (n *Node) Verify(dataPool uint8, checksum uint32) (bool, uint8) {
	if int(dataPool) >= len(n.model.DataPools) {
		return false, wire.NRCRequestOutOfRange
	}
	return n.checksums[dataPool] == checksum, 0
}

// NotifyNvmChanged records a change notification. The application
// acknowledges notifications for NVM datapools only.
func (n *Node) NotifyNvmChanged(dataPool uint8, list uint16) (bool, uint8) {
	if int(dataPool) >= len(n.model.DataPools) {
		return false, wire.NRCRequestOutOfRange
	}
	dp := n.model.DataPools[dataPool]
	if int(list) >= len(dp.Lists) {
		return false, wire.NRCRequestOutOfRange
	}
	if !dp.Nvm {
		return false, 0
	}
	n.mu.Lock()
	n.changes = append(n.changes, NvmChange{DataPool: dataPool, List: list})
	n.mu.Unlock()
	return true, 0
}

// Changes returns the NVM change notifications received so far.
func (n *Node) Changes() []NvmChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NvmChange(nil), n.changes...)
}

// Model returns the node model.
func (n *Node) Model() *config.NodeConfig {
	return &n.model
}

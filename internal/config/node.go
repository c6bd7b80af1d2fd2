package config

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/osy/wire"
)

// Model limits imposed by the packed element address.
const (
	MaxDataPools = wire.MaxDataPool + 1
	MaxLists     = wire.MaxList + 1
	MaxElements  = wire.MaxElement + 1
)

// TypeSize returns the byte size of one value of the named element type.
func TypeSize(typ string) (int, bool) {
	size := diag.ValueType(typ).Size()
	return size, size > 0
}

// ValueType returns the element's scalar type.
func (e ElementConfig) ValueType() diag.ValueType {
	return diag.ValueType(e.Type)
}

// Count returns the number of values the element holds.
func (e ElementConfig) Count() int {
	if e.ArrayLength > 1 {
		return e.ArrayLength
	}
	return 1
}

// IsArray reports whether the element is transferred as an array.
func (e ElementConfig) IsArray() bool {
	return e.ArrayLength > 1
}

// Size returns the element size in bytes.
func (e ElementConfig) Size() int {
	size, _ := TypeSize(e.Type)
	return size * e.Count()
}

// NvmSize returns the number of NVM bytes the datapool occupies.
func (dp DataPoolConfig) NvmSize() int {
	total := 0
	for _, list := range dp.Lists {
		for _, el := range list.Elements {
			total += el.Size()
		}
	}
	return total
}

// ElementCount returns the number of elements over all lists.
func (dp DataPoolConfig) ElementCount() int {
	n := 0
	for _, list := range dp.Lists {
		n += len(list.Elements)
	}
	return n
}

// NvmOffset returns the offset of an element inside the datapool's NVM
// range. Elements are laid out back to back in list order.
func (dp DataPoolConfig) NvmOffset(list, element int) int {
	offset := 0
	for l, lc := range dp.Lists {
		for e, el := range lc.Elements {
			if l == list && e == element {
				return offset
			}
			offset += el.Size()
		}
	}
	return offset
}

// ParseVersion parses "major.minor.release" into a datapool version.
func ParseVersion(s string) (diag.Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return diag.Version{}, fmt.Errorf("version %q: %w", s, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return diag.Version{}, fmt.Errorf("version %q: pre-release and build metadata are not supported", s)
	}
	parts := []int64{v.Major(), v.Minor(), v.Patch()}
	var out diag.Version
	for i, p := range parts {
		if p > 0xFF {
			return diag.Version{}, fmt.Errorf("version %q: component %d exceeds 255", s, p)
		}
		out[i] = uint8(p)
	}
	return out, nil
}

// DataPoolChecksum returns the configured checksum, or a CRC-32 over the
// datapool definition when none is configured.
func DataPoolChecksum(dp DataPoolConfig) uint32 {
	if dp.Checksum != 0 {
		return dp.Checksum
	}
	h := crc32.NewIEEE()
	h.Write([]byte(dp.Name))
	var buf [4]byte
	for _, list := range dp.Lists {
		h.Write([]byte(list.Name))
		for _, el := range list.Elements {
			h.Write([]byte(el.Name))
			h.Write([]byte(el.Type))
			binary.BigEndian.PutUint32(buf[:], uint32(el.Count()))
			h.Write(buf[:])
		}
	}
	return h.Sum32()
}

// ElementRef is a resolved element of the node model.
type ElementRef struct {
	ID       diag.ElementID
	DataPool *DataPoolConfig
	Element  *ElementConfig
}

// Path returns "DataPool.List.Element".
func (r ElementRef) Path() string {
	return fmt.Sprintf("%s.%s.%s", r.DataPool.Name, r.DataPool.Lists[r.ID.List].Name, r.Element.Name)
}

// NvmAddress returns the absolute NVM address of the element.
func (r ElementRef) NvmAddress() uint32 {
	return r.DataPool.NvmAddress + uint32(r.DataPool.NvmOffset(int(r.ID.List), int(r.ID.Element)))
}

// Element resolves an element by index.
func (n *NodeConfig) Element(id diag.ElementID) (ElementRef, error) {
	if int(id.DataPool) >= len(n.DataPools) {
		return ElementRef{}, fmt.Errorf("%w: datapool %d not in model", diag.ErrOutOfRange, id.DataPool)
	}
	dp := &n.DataPools[id.DataPool]
	if int(id.List) >= len(dp.Lists) {
		return ElementRef{}, fmt.Errorf("%w: list %d not in datapool %s", diag.ErrOutOfRange, id.List, dp.Name)
	}
	list := &dp.Lists[id.List]
	if int(id.Element) >= len(list.Elements) {
		return ElementRef{}, fmt.Errorf("%w: element %d not in list %s", diag.ErrOutOfRange, id.Element, list.Name)
	}
	return ElementRef{ID: id, DataPool: dp, Element: &list.Elements[id.Element]}, nil
}

// Lookup resolves an element by "DataPool.List.Element" name or by
// "dp.list.element" indices.
func (n *NodeConfig) Lookup(path string) (ElementRef, error) {
	parts := strings.Split(path, ".")
	if len(parts) != 3 {
		return ElementRef{}, fmt.Errorf("element path %q: want DataPool.List.Element", path)
	}
	var idx [3]int
	numeric := true
	for i, p := range parts {
		if _, err := fmt.Sscanf(p, "%d", &idx[i]); err != nil || fmt.Sprint(idx[i]) != p {
			numeric = false
			break
		}
	}
	if numeric {
		if idx[0] > wire.MaxDataPool || idx[1] > wire.MaxList || idx[2] > wire.MaxElement {
			return ElementRef{}, fmt.Errorf("%w: element %s", diag.ErrOutOfRange, path)
		}
		return n.Element(diag.ElementID{DataPool: uint8(idx[0]), List: uint16(idx[1]), Element: uint16(idx[2])})
	}

	for d := range n.DataPools {
		dp := &n.DataPools[d]
		if dp.Name != parts[0] {
			continue
		}
		for l := range dp.Lists {
			if dp.Lists[l].Name != parts[1] {
				continue
			}
			for e := range dp.Lists[l].Elements {
				if dp.Lists[l].Elements[e].Name == parts[2] {
					return ElementRef{
						ID:       diag.ElementID{DataPool: uint8(d), List: uint16(l), Element: uint16(e)},
						DataPool: dp,
						Element:  &dp.Lists[l].Elements[e],
					}, nil
				}
			}
		}
	}
	return ElementRef{}, fmt.Errorf("unknown element %q", path)
}

// DataPoolIndex resolves a datapool by name or decimal index.
func (n *NodeConfig) DataPoolIndex(name string) (uint8, error) {
	for i, dp := range n.DataPools {
		if dp.Name == name {
			return uint8(i), nil
		}
	}
	var idx int
	if _, err := fmt.Sscanf(name, "%d", &idx); err == nil && fmt.Sprint(idx) == name {
		if idx < 0 || idx > wire.MaxDataPool {
			return 0, fmt.Errorf("%w: datapool %d", diag.ErrOutOfRange, idx)
		}
		return uint8(idx), nil
	}
	return 0, fmt.Errorf("unknown datapool %q", name)
}

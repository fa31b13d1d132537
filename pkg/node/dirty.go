package node

import (
	"fmt"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// DirtyType selects which shadow state a commit publishes.
type DirtyType uint8

const (
	// DirtyNormal publishes per-frame configuration.
	DirtyNormal DirtyType = iota
	// DirtyTID publishes routing id changes only.
	DirtyTID
)

// String returns the dirty type name.
func (t DirtyType) String() string {
	switch t {
	case DirtyNormal:
		return "normal"
	case DirtyTID:
		return "tid"
	default:
		return "unknown"
	}
}

// DirtyRegister names one of the dirty-flag registers.
type DirtyRegister uint8

const (
	// RegModule holds one bit per processing block.
	RegModule DirtyRegister = iota
	// RegTID holds one bit per fabric port.
	RegTID
	// RegMLC holds one bit per MLC layer stack.
	RegMLC
)

// DirtyBit addresses one bit in a dirty-flag register.
type DirtyBit struct {
	Register DirtyRegister
	Bit      uint
}

func (b DirtyBit) String() string {
	return fmt.Sprintf("%d:%d", b.Register, b.Bit)
}

// DirtySink latches dirty bits into the hardware.
type DirtySink interface {
	SetDirty(bit DirtyBit) error
}

// DirtyMap assigns module dirty bits to instances. Kinds missing from the
// map have nothing to commit.
type DirtyMap struct {
	module map[nxs.Kind][]uint
}

// NewDirtyMap builds a map from explicit per-kind bit lists.
func NewDirtyMap(module map[nxs.Kind][]uint) *DirtyMap {
	return &DirtyMap{module: module}
}

// DefaultDirtyMap returns the S5Pxx18 layout: processing blocks get
// consecutive module bits, output encoders have none. The second VIP
// decimator and the last two DMAW channels have no module bit: their TID
// commits work, a normal commit reports ErrInvalidInstance.
func DefaultDirtyMap() *DirtyMap {
	m := make(map[nxs.Kind][]uint)
	next := uint(0)
	for _, k := range nxs.Kinds() {
		switch k {
		case nxs.KindLVDS, nxs.KindMIPIDSI, nxs.KindHDMI:
			continue
		}
		n := k.MaxInstances()
		switch k {
		case nxs.KindVIPDecimator:
			n = 1
		case nxs.KindDMAW:
			n -= 2
		}
		bits := make([]uint, n)
		for i := range bits {
			bits[i] = next
			next++
		}
		m[k] = bits
	}
	return &DirtyMap{module: m}
}

// Lookup resolves the bit a commit of type t sets for an instance. ok is
// false when the kind has no dirty mapping at all.
func (m *DirtyMap) Lookup(k nxs.Kind, index int, t DirtyType) (bit DirtyBit, ok bool, err error) {
	bits, has := m.module[k]
	if !has {
		return DirtyBit{}, false, nil
	}
	if index < 0 || index >= k.MaxInstances() {
		return DirtyBit{}, false, fmt.Errorf("%w: %s", nxs.ErrInvalidInstance, nxs.DeviceName(k, index))
	}
	if t == DirtyTID {
		return DirtyBit{Register: RegTID, Bit: uint(nxs.InputTID(k, index))}, true, nil
	}
	if index >= len(bits) {
		return DirtyBit{}, false, fmt.Errorf("%w: %s", nxs.ErrInvalidInstance, nxs.DeviceName(k, index))
	}
	if k == nxs.KindMLCBottom {
		// The bottom layer publishes normal state with its MLC stack.
		return DirtyBit{Register: RegMLC, Bit: uint(index)}, true, nil
	}
	return DirtyBit{Register: RegModule, Bit: bits[index]}, true, nil
}

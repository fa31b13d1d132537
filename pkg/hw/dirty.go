package hw

import (
	"fmt"
	"math/bits"
	"slices"

	"github.com/nxs-stream/nxs-go/pkg/node"
)

// Dirty-flag register file layout. Each register is dirtyWords wide.
const (
	dirtyBase   = 0x0000
	dirtyWords  = 4
	dirtyStride = dirtyWords * 4
	dirtyBits   = dirtyWords * 32
	dirtySize   = dirtyStride * 3
)

// DirtyFlags models the module, fabric and MLC dirty-flag registers. A set
// bit publishes the matching block's shadow registers at the next vsync,
// when the hardware clears it.
type DirtyFlags struct {
	regs *Region
}

// NewDirtyFlags maps the dirty-flag registers into bank.
func NewDirtyFlags(bank *Bank) *DirtyFlags {
	return &DirtyFlags{regs: bank.Region(dirtyBase, dirtySize)}
}

func wordOf(bit node.DirtyBit) (uint32, uint32) {
	off := uint32(bit.Register)*dirtyStride + uint32(bit.Bit/32)*4
	return off, 1 << (bit.Bit % 32)
}

func checkBit(bit node.DirtyBit) error {
	if bit.Register > node.RegMLC || bit.Bit >= dirtyBits {
		return fmt.Errorf("dirty bit %s out of range", bit)
	}
	return nil
}

// SetDirty latches one dirty bit.
func (d *DirtyFlags) SetDirty(bit node.DirtyBit) error {
	if err := checkBit(bit); err != nil {
		return err
	}
	off, mask := wordOf(bit)
	d.regs.SetBits(off, mask)
	return nil
}

// IsSet reports whether a bit is waiting for vsync.
func (d *DirtyFlags) IsSet(bit node.DirtyBit) bool {
	if checkBit(bit) != nil {
		return false
	}
	off, mask := wordOf(bit)
	return d.regs.Read32(off)&mask != 0
}

// Latch clears every set bit, as the hardware does at vsync, and returns
// the bits it cleared.
func (d *DirtyFlags) Latch() []node.DirtyBit {
	var out []node.DirtyBit
	for _, reg := range []node.DirtyRegister{node.RegModule, node.RegTID, node.RegMLC} {
		for w := uint32(0); w < dirtyWords; w++ {
			off := uint32(reg)*dirtyStride + w*4
			v := d.regs.Read32(off)
			if v == 0 {
				continue
			}
			d.regs.ClearBits(off, v)
			for v != 0 {
				i := uint(bits.TrailingZeros32(v))
				out = append(out, node.DirtyBit{Register: reg, Bit: uint(w)*32 + i})
				v &^= 1 << i
			}
		}
	}
	slices.SortFunc(out, func(a, b node.DirtyBit) int {
		if a.Register != b.Register {
			return int(a.Register) - int(b.Register)
		}
		return int(a.Bit) - int(b.Bit)
	})
	return out
}

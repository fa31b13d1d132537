package hw

import (
	"fmt"
	"sync"
)

// Bank is a sparse 32-bit register file. Unwritten registers read as zero.
type Bank struct {
	mu     sync.RWMutex
	regs   map[uint32]uint32
	writes uint64
}

// NewBank returns an empty register bank.
func NewBank() *Bank {
	return &Bank{regs: make(map[uint32]uint32)}
}

// Read32 reads the register at addr.
func (b *Bank) Read32(addr uint32) uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.regs[addr]
}

// Write32 writes the register at addr.
func (b *Bank) Write32(addr, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[addr] = v
	b.writes++
}

// Modify32 clears the clear mask and sets the set mask in one locked
// read-modify-write and returns the new value.
func (b *Bank) Modify32(addr, clear, set uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.regs[addr]&^clear | set
	b.regs[addr] = v
	b.writes++
	return v
}

// Writes returns the number of register writes since creation.
func (b *Bank) Writes() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writes
}

// Region returns a window of size bytes starting at base.
func (b *Bank) Region(base, size uint32) *Region {
	return &Region{bank: b, base: base, size: size}
}

// Region is a block's window into a Bank. Offsets are relative to the
// window base.
type Region struct {
	bank *Bank
	base uint32
	size uint32
}

// Base returns the absolute address of offset zero.
func (r *Region) Base() uint32 { return r.base }

func (r *Region) addr(off uint32) uint32 {
	if off+4 > r.size {
		panic(fmt.Sprintf("hw: offset %#x outside region %#x+%#x", off, r.base, r.size))
	}
	return r.base + off
}

// Read32 reads a register of the window.
func (r *Region) Read32(off uint32) uint32 {
	return r.bank.Read32(r.addr(off))
}

// Write32 writes a register of the window.
func (r *Region) Write32(off, v uint32) {
	r.bank.Write32(r.addr(off), v)
}

// SetBits sets mask in a register of the window.
func (r *Region) SetBits(off, mask uint32) uint32 {
	return r.bank.Modify32(r.addr(off), 0, mask)
}

// ClearBits clears mask in a register of the window.
func (r *Region) ClearBits(off, mask uint32) uint32 {
	return r.bank.Modify32(r.addr(off), mask, 0)
}

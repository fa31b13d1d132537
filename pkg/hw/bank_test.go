package hw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionAccess(t *testing.T) {
	bank := NewBank()
	r := bank.Region(0x2000, 0x10)

	assert.Equal(t, uint32(0), r.Read32(0x4))
	r.Write32(0x4, 0xdead)
	assert.Equal(t, uint32(0xdead), bank.Read32(0x2004))

	assert.Equal(t, uint32(0xdeaf), r.SetBits(0x4, 0x2))
	assert.Equal(t, uint32(0xdeab), r.ClearBits(0x4, 0x4))
	assert.Equal(t, uint64(3), bank.Writes())
	assert.Equal(t, uint32(0x2000), r.Base())
}

func TestRegionBounds(t *testing.T) {
	r := NewBank().Region(0, 0x10)
	assert.NotPanics(t, func() { r.Read32(0xc) })
	assert.Panics(t, func() { r.Read32(0x10) })
	assert.Panics(t, func() { r.Write32(0xe, 1) })
}

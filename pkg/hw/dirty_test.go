package hw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

func TestDirtyFlagsLatch(t *testing.T) {
	d := NewDirtyFlags(NewBank())

	bits := []node.DirtyBit{
		{Register: node.RegTID, Bit: 70},
		{Register: node.RegModule, Bit: 3},
		{Register: node.RegMLC, Bit: 1},
		{Register: node.RegModule, Bit: 40},
	}
	for _, b := range bits {
		require.NoError(t, d.SetDirty(b))
		assert.True(t, d.IsSet(b), b.String())
	}

	got := d.Latch()
	assert.Equal(t, []node.DirtyBit{
		{Register: node.RegModule, Bit: 3},
		{Register: node.RegModule, Bit: 40},
		{Register: node.RegTID, Bit: 70},
		{Register: node.RegMLC, Bit: 1},
	}, got)
	for _, b := range bits {
		assert.False(t, d.IsSet(b))
	}
	assert.Empty(t, d.Latch())
}

func TestDirtyFlagsRange(t *testing.T) {
	d := NewDirtyFlags(NewBank())
	assert.Error(t, d.SetDirty(node.DirtyBit{Register: node.RegModule, Bit: dirtyBits}))
	assert.Error(t, d.SetDirty(node.DirtyBit{Register: node.RegMLC + 1, Bit: 0}))
	assert.False(t, d.IsSet(node.DirtyBit{Register: node.RegModule, Bit: dirtyBits}))
}

func TestDirtyFlagsAsNodeSink(t *testing.T) {
	chip := NewChip(ChipConfig{})
	blk, err := chip.Block(nxs.KindMLCBottom, 1)
	require.NoError(t, err)

	dev, err := node.New(node.Config{Kind: nxs.KindMLCBottom, Index: 1, Driver: blk, Sink: chip.Dirty()})
	require.NoError(t, err)

	require.NoError(t, dev.SetDirty(node.DirtyNormal))
	require.NoError(t, dev.SetDirty(node.DirtyTID))
	assert.Equal(t, []node.DirtyBit{
		{Register: node.RegTID, Bit: uint(dev.InputTID())},
		{Register: node.RegMLC, Bit: 1},
	}, chip.Dirty().Latch())

	// Every input port of the catalog fits the fabric register.
	for _, k := range nxs.Kinds() {
		assert.Less(t, nxs.InputTID(k, k.MaxInstances()-1), uint32(dirtyBits), k.String())
	}
}

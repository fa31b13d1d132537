package hw

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

func TestControllerAttach(t *testing.T) {
	c := NewController(8)
	assert.Equal(t, 8, c.Lines())

	var hits int
	require.NoError(t, c.Attach(3, func() { hits++ }))
	assert.ErrorIs(t, c.Attach(3, func() {}), nxs.ErrResourceBusy)
	assert.ErrorIs(t, c.Attach(8, func() {}), nxs.ErrInvalidArgument)
	assert.ErrorIs(t, c.Attach(1, nil), nxs.ErrInvalidArgument)
	assert.Equal(t, []int{3}, c.Attached())

	assert.True(t, c.Raise(3))
	assert.False(t, c.Raise(4))
	assert.False(t, c.Raise(-1))
	assert.Equal(t, 1, hits)
	assert.Equal(t, uint64(1), c.Count(3))

	c.Detach(3)
	assert.False(t, c.Raise(3))
	assert.Empty(t, c.Attached())
	c.Detach(99)
}

func TestControllerDetachWaitsForHandler(t *testing.T) {
	c := NewController(0)
	assert.Equal(t, DefaultLines, c.Lines())

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, c.Attach(0, func() {
		close(entered)
		<-release
		finished.Store(true)
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Raise(0)
	}()
	<-entered

	detached := make(chan struct{})
	go func() {
		c.Detach(0)
		close(detached)
	}()

	select {
	case <-detached:
		t.Fatal("Detach returned while the handler was running")
	case <-time.After(10 * time.Millisecond):
	}
	close(release)
	<-detached
	assert.True(t, finished.Load())
	wg.Wait()
}

func TestControllerDrivesNodeLineSource(t *testing.T) {
	chip := NewChip(ChipConfig{})
	blk, err := chip.Block(nxs.KindDMAW, 0)
	require.NoError(t, err)

	dev, err := node.New(node.Config{
		Kind:   nxs.KindDMAW,
		Index:  0,
		Driver: blk,
		IRQ:    node.NewLineSource(chip.Interrupts(), 12),
	})
	require.NoError(t, err)

	var ticks int
	_, err = dev.RegisterIRQCallback(func(*node.Dev, any) { ticks++ }, nil)
	require.NoError(t, err)

	require.NoError(t, dev.Open())
	require.NoError(t, dev.Start())
	chip.VSync()
	chip.VSync()
	require.NoError(t, dev.Stop())
	chip.VSync()

	assert.Equal(t, 2, ticks)
	assert.Equal(t, uint64(2), dev.IRQCount())
	assert.Equal(t, uint64(3), chip.Frames())
}

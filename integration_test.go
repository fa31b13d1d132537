package nxs_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/board"
	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/hw"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/service"
	"github.com/nxs-stream/nxs-go/pkg/transport"
	"github.com/nxs-stream/nxs-go/pkg/wire"
)

type bench struct {
	chip *hw.Chip
	m    *resource.Manager
	addr string
}

// startBench boots the shipped evaluation board behind a unix socket.
func startBench(t *testing.T) *bench {
	t.Helper()
	b, err := board.Load(afero.NewReadOnlyFs(afero.NewOsFs()), "boards/s5p6818-evb.yaml")
	require.NoError(t, err)

	clk := clock.NewFake()
	chip := hw.NewChip(hw.ChipConfig{Lines: b.IRQLines, Clock: clk})
	m := resource.NewManager(resource.Config{Clock: clk})
	_, err = board.Apply(b, board.Env{Manager: m, Chip: chip, Clock: clk})
	require.NoError(t, err)

	svc, err := service.New(service.Config{Manager: m, Version: "test", Board: b.Name})
	require.NoError(t, err)
	addr := filepath.Join(t.TempDir(), "nxsd.sock")
	require.NoError(t, svc.Start(context.Background(), transport.ServerConfig{Address: addr}))
	t.Cleanup(func() {
		svc.Stop()
		m.Shutdown()
	})
	return &bench{chip: chip, m: m, addr: addr}
}

func (b *bench) dial(t *testing.T) *service.Client {
	t.Helper()
	c, err := service.Dial(context.Background(), transport.ClientConfig{Address: b.addr})
	require.NoError(t, err)
	c.SetTimeout(5 * time.Second)
	t.Cleanup(func() { c.Close() })
	return c
}

func capture(t *testing.T) function.Request {
	t.Helper()
	els, err := function.ParseElements("dmar:0,dmaw:0")
	require.NoError(t, err)
	return function.Request{Elements: els}
}

func findFunction(fns []wire.FunctionInfo, name string) (wire.FunctionInfo, bool) {
	for _, f := range fns {
		if f.Name == name {
			return f, true
		}
	}
	return wire.FunctionInfo{}, false
}

func TestBoardFunctionsVisible(t *testing.T) {
	b := startBench(t)
	c := b.dial(t)
	ctx := context.Background()

	p, err := c.Handshake(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s5p6818-evb", p.Board)

	fns, err := c.ListFunctions(ctx)
	require.NoError(t, err)
	primary, ok := findFunction(fns, "primary")
	require.True(t, ok)
	assert.Equal(t, "started", primary.State)
	assert.Equal(t, "kernel", primary.Requester)
	assert.False(t, primary.Owned)

	// Kernel functions are never removable over the control plane.
	err = c.RemoveFunction(ctx, primary.Handle)
	assert.ErrorIs(t, err, wire.ErrNotAuthorized)
}

func TestSessionsCompeteForNodes(t *testing.T) {
	b := startBench(t)
	ctx := context.Background()
	alice := b.dial(t)
	bob := b.dial(t)

	h, err := alice.RequestFunction(ctx, "capture", capture(t), true)
	require.NoError(t, err)
	require.NoError(t, alice.Connect(ctx, h))
	require.NoError(t, alice.Start(ctx, h))

	// The dmar is exclusive while alice holds it.
	_, err = bob.RequestFunction(ctx, "capture", capture(t), true)
	assert.ErrorIs(t, err, nxs.ErrResourceBusy)

	// bob may observe alice's function but not drive it.
	assert.ErrorIs(t, bob.Stop(ctx, h), wire.ErrNotAuthorized)
	assert.ErrorIs(t, bob.RemoveFunction(ctx, h), wire.ErrNotAuthorized)

	fns, err := bob.ListFunctions(ctx)
	require.NoError(t, err)
	f, ok := findFunction(fns, "capture")
	require.True(t, ok)
	assert.False(t, f.Owned)
	assert.Equal(t, "user", f.Requester)

	// Closing alice's session tears her function down and frees the nodes.
	require.NoError(t, alice.Close())
	assert.Eventually(t, func() bool {
		_, err := b.m.Function(h)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	h2, err := bob.RequestFunction(ctx, "capture", capture(t), true)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
}

func TestFrameNotifications(t *testing.T) {
	b := startBench(t)
	ctx := context.Background()
	c := b.dial(t)

	frames := make(chan uint64, 8)
	c.OnNotification(func(n *wire.Notification) {
		select {
		case frames <- n.Frame:
		default:
		}
	})

	h, err := c.RequestFunction(ctx, "capture", capture(t), true)
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx, h))
	require.NoError(t, c.Start(ctx, h))
	id, err := c.Subscribe(ctx, h)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	var got []uint64
	for len(got) < 2 {
		select {
		case frame := <-frames:
			got = append(got, frame)
		case <-deadline:
			t.Fatalf("frame notifications: got %v", got)
		case <-time.After(10 * time.Millisecond):
			b.chip.VSync()
		}
	}
	assert.Less(t, got[0], got[1])

	require.NoError(t, c.Unsubscribe(ctx, id))
	require.NoError(t, c.Stop(ctx, h))
	require.NoError(t, c.Disconnect(ctx, h))
	require.NoError(t, c.RemoveFunction(ctx, h))
}

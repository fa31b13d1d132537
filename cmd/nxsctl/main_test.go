package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/hw"
	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/service"
	"github.com/nxs-stream/nxs-go/pkg/transport"
)

type testDaemon struct {
	chip *hw.Chip
	m    *resource.Manager
	path string
}

func startDaemon(t *testing.T) *testDaemon {
	t.Helper()
	chip := hw.NewChip(hw.ChipConfig{})
	m := resource.NewManager(resource.Config{})
	for _, k := range []struct {
		kind  nxs.Kind
		index int
		irq   int
	}{
		{nxs.KindDMAR, 0, -1},
		{nxs.KindDMAR, 1, -1},
		{nxs.KindCropper, 0, -1},
		{nxs.KindDMAW, 0, 8},
		{nxs.KindDMAW, 1, 9},
	} {
		blk, err := chip.Block(k.kind, k.index)
		require.NoError(t, err)
		cfg := node.Config{Kind: k.kind, Index: k.index, Driver: blk, Sink: chip.Dirty()}
		if k.irq >= 0 {
			cfg.IRQ = node.NewLineSource(chip.Interrupts(), k.irq)
		}
		dev, err := node.New(cfg)
		require.NoError(t, err)
		require.NoError(t, m.RegisterNode(dev))
	}

	svc, err := service.New(service.Config{Manager: m, Version: "dev", Board: "bench"})
	require.NoError(t, err)

	dir, err := os.MkdirTemp("", "nxsctl")
	require.NoError(t, err)
	path := filepath.Join(dir, "d.sock")
	require.NoError(t, svc.Start(context.Background(), transport.ServerConfig{Address: path}))
	t.Cleanup(func() {
		svc.Stop()
		os.RemoveAll(dir)
	})
	return &testDaemon{chip: chip, m: m, path: path}
}

func (d *testDaemon) ctl(t *testing.T) (*ctl, *bytes.Buffer) {
	t.Helper()
	c, err := service.Dial(context.Background(), transport.ClientConfig{Address: d.path})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	var buf bytes.Buffer
	return &ctl{c: c, out: &buf}, &buf
}

func exec(t *testing.T, c *ctl, line string) {
	t.Helper()
	require.NoError(t, c.exec(context.Background(), strings.Fields(line)), line)
}

func TestRunPingAndFunctions(t *testing.T) {
	d := startDaemon(t)
	_, err := d.m.RequestFunction("kcopy", function.Request{Elements: []function.Element{
		{Kind: nxs.KindDMAR, Index: 1, Requester: nxs.RequesterKernel},
		{Kind: nxs.KindDMAW, Index: 1, Requester: nxs.RequesterKernel},
	}}, true)
	require.NoError(t, err)

	cfg := Config{SocketPath: d.path, Timeout: 2 * time.Second, Retries: 1}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, []string{"ping"}, &out))
	assert.Contains(t, out.String(), "board bench")

	out.Reset()
	require.NoError(t, run(context.Background(), cfg, []string{"functions"}, &out))
	assert.Contains(t, out.String(), "kcopy")
	assert.Contains(t, out.String(), "dmar.1,dmaw.1")

	out.Reset()
	err = run(context.Background(), cfg, []string{"bogus"}, &out)
	assert.ErrorContains(t, err, "unknown command")
}

func TestRunUnreachable(t *testing.T) {
	cfg := Config{SocketPath: filepath.Join(t.TempDir(), "none.sock"), Timeout: time.Second, Retries: 1}
	assert.Error(t, run(context.Background(), cfg, []string{"ping"}, &bytes.Buffer{}))
}

func TestLifecycleCommands(t *testing.T) {
	d := startDaemon(t)
	c, out := d.ctl(t)

	exec(t, c, "request capture dmar:0,cropper:0,dmaw:0")
	assert.Equal(t, "1\n", out.String())

	exec(t, c, "up 1")
	out.Reset()
	exec(t, c, "functions")
	assert.Contains(t, out.String(), "started")
	assert.Contains(t, out.String(), "user*")

	exec(t, c, "set 1 0 format {width: 1280, height: 720, pixelformat: 4}")
	out.Reset()
	exec(t, c, "get 1 0 format")
	assert.Equal(t, "width: 1280\nheight: 720\npixelformat: 4\n", out.String())

	exec(t, c, "set 1 1 crop {left: 8, top: 8, width: 640, height: 480}")
	out.Reset()
	exec(t, c, "get 1 1 crop")
	assert.Contains(t, out.String(), "width: 640")

	out.Reset()
	exec(t, c, "query 1 devinfo")
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))

	exec(t, c, "stop 1")
	exec(t, c, "disconnect 1")
	exec(t, c, "remove 1")

	out.Reset()
	exec(t, c, "nodes")
	assert.Contains(t, out.String(), "dmar.0")
	assert.Contains(t, out.String(), "0/1")
	assert.NotContains(t, out.String(), "1/1")
}

func TestWatch(t *testing.T) {
	d := startDaemon(t)
	c, out := d.ctl(t)

	exec(t, c, "request copy dmar:0,dmaw:0")
	exec(t, c, "up 1")

	done := make(chan error, 1)
	go func() { done <- c.exec(context.Background(), []string{"watch", "1", "2"}) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, 2, strings.Count(out.String(), "function 1 frame"))
			return
		case <-deadline:
			t.Fatal("watch did not finish")
		case <-time.After(10 * time.Millisecond):
			d.chip.VSync()
		}
	}
}

func TestCommandErrors(t *testing.T) {
	d := startDaemon(t)
	c, _ := d.ctl(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"remove", "usage: remove"},
		{"remove x", "invalid handle"},
		{"start 42", "not found"},
		{"request only-name", "usage: request"},
		{"request f dmar:0 colour=red", "unknown option"},
		{"get 1 0 brightness", "unknown control"},
		{"query 1 everything", "unknown query"},
		{"watch 1 -3", "invalid count"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := c.exec(ctx, strings.Fields(tt.line))
			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), tt.want)
		})
	}
}

func TestParseRequest(t *testing.T) {
	req, useBuilder, err := parseRequest("dmar:0,multitap:0,dmaw:0", []string{"flags=multi_path", "sibling=3", "display=1", "bottom=0", "nobuilder"})
	require.NoError(t, err)
	assert.False(t, useBuilder)
	assert.Len(t, req.Elements, 3)
	assert.Equal(t, function.FlagMultiPath, req.Flags)
	assert.Equal(t, 3, req.SiblingHandle)
	assert.Equal(t, 1, req.DisplayID)

	_, _, err = parseRequest("dmar:0", []string{"sibling=abc"})
	assert.Error(t, err)
}

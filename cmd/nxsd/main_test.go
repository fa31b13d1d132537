package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/service"
	"github.com/nxs-stream/nxs-go/pkg/transport"
)

const testBoard = `
name: bench
nodes:
  - kind: dmar
    instances: [0, 1]
  - kind: dmaw
    instances: [0]
    irq: 8
  - kind: mlc_blending
    instances: [0]
  - kind: dpc
    instances: [0]
  - kind: hdmi
    instances: [0]
displays:
  - id: 1
    name: tv
    sink: out
functions:
  - name: out
    elements: mlc_blending:0,dpc:0,hdmi:0
    start: true
`

func TestValidateConfig(t *testing.T) {
	base := Config{BoardFile: "b.yaml", SocketPath: "/tmp/x.sock", SocketMode: 0o660, LogLevel: "info"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"debug level", func(c *Config) { c.LogLevel = "debug" }, false},
		{"tcp only", func(c *Config) { c.SocketPath = ""; c.TCPAddress = ":0" }, false},
		{"no board", func(c *Config) { c.BoardFile = "" }, true},
		{"no listener", func(c *Config) { c.SocketPath = "" }, true},
		{"mdns without tcp", func(c *Config) { c.MDNS = true }, true},
		{"bad mode", func(c *Config) { c.SocketMode = 0o1777 }, true},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := validateConfig(&cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func startDaemon(t *testing.T, cfg Config) (*daemon, context.CancelFunc, <-chan error) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/nxs/board.yaml", []byte(testBoard), 0o644))

	dir, err := os.MkdirTemp("", "nxsd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg.BoardFile = "/etc/nxs/board.yaml"
	cfg.SocketPath = filepath.Join(dir, "nxsd.sock")
	cfg.LogLevel = "info"

	d := &daemon{
		cfg:    cfg,
		fs:     fs,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ready:  make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	select {
	case <-d.ready:
	case err := <-done:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not become ready")
	}
	return d, cancel, done
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemonServesControlPlane(t *testing.T) {
	d, cancel, done := startDaemon(t, Config{TraceFile: "/var/log/nxsd.trace"})

	ctx, cc := context.WithTimeout(context.Background(), 5*time.Second)
	defer cc()

	c, err := service.Dial(ctx, transport.ClientConfig{
		Network: transport.NetworkUnix,
		Address: d.cfg.SocketPath,
	})
	require.NoError(t, err)

	ping, err := c.Handshake(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bench", ping.Board)

	fns, err := c.ListFunctions(ctx)
	require.NoError(t, err)
	require.Len(t, fns, 1)
	assert.Equal(t, "out", fns[0].Name)
	assert.Equal(t, "started", fns[0].State)

	require.NoError(t, c.Close())
	stop(t, cancel, done)

	// The trace saw the session come and go.
	r, err := log.NewFilteredReaderFs(d.fs, "/var/log/nxsd.trace", log.Filter{})
	require.NoError(t, err)
	defer r.Close()
	n := 0
	for {
		if _, err := r.Next(); err != nil {
			break
		}
		n++
	}
	assert.Greater(t, n, 0)
}

func TestDaemonServesMetrics(t *testing.T) {
	d, cancel, done := startDaemon(t, Config{Metrics: "127.0.0.1:0"})
	defer stop(t, cancel, done)

	require.NotNil(t, d.metricsAddr)
	resp, err := http.Get("http://" + d.metricsAddr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `nxs_functions{requester="kernel",state="started"} 1`)
	assert.Contains(t, string(body), `nxs_node_refcount{node="hdmi.0"} 1`)
}

func TestDaemonMissingBoard(t *testing.T) {
	d := &daemon{
		cfg:    Config{BoardFile: "/nope.yaml", SocketPath: "/tmp/never.sock"},
		fs:     afero.NewMemMapFs(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	assert.Error(t, d.run(context.Background()))
}

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/log"
)

func writeTrace(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	l, err := log.NewFileLoggerFs(fs, "/nxsd.nlog")
	require.NoError(t, err)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Log(log.Event{Timestamp: ts, Layer: log.LayerNode, Category: log.CategoryClaim, Node: "dmar.0",
		Claim: &log.ClaimEvent{Action: log.ClaimActionGet, Requester: "user", Refcount: 1, MaxRefcount: 1}})
	l.Log(log.Event{Timestamp: ts, Layer: log.LayerNode, Category: log.CategoryIRQ, Node: "dmaw.0", Handle: 3,
		IRQ: &log.IRQEvent{Frame: 1}})
	require.NoError(t, l.Close())
	return fs
}

func TestRunView(t *testing.T) {
	fs := writeTrace(t)

	var out bytes.Buffer
	require.NoError(t, run(fs, "view", []string{"-category", "claim", "/nxsd.nlog"}, &out))
	assert.Contains(t, out.String(), "GET by user")
	assert.NotContains(t, out.String(), "IRQ")

	out.Reset()
	require.NoError(t, run(fs, "view", []string{"-handle", "3", "/nxsd.nlog"}, &out))
	assert.Contains(t, out.String(), "dmaw.0 fn:3")
	assert.NotContains(t, out.String(), "Claim")
}

func TestRunFilterAndStats(t *testing.T) {
	fs := writeTrace(t)

	var out bytes.Buffer
	require.NoError(t, run(fs, "filter", []string{"-node", "dmaw.0", "-o", "/dmaw.nlog", "/nxsd.nlog"}, &out))
	assert.Contains(t, out.String(), "Filtered 1 events")

	out.Reset()
	require.NoError(t, run(fs, "stats", []string{"/dmaw.nlog"}, &out))
	assert.Contains(t, out.String(), "Total Events: 1")
	assert.Contains(t, out.String(), "[3] state -, 1 frames")
}

func TestRunExport(t *testing.T) {
	fs := writeTrace(t)

	var out bytes.Buffer
	require.NoError(t, run(fs, "export", []string{"-format", "csv", "/nxsd.nlog"}, &out))
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
}

func TestRunErrors(t *testing.T) {
	fs := writeTrace(t)

	tests := []struct {
		name string
		cmd  string
		args []string
	}{
		{"unknown command", "tail", nil},
		{"missing path", "view", nil},
		{"bad layer", "view", []string{"-layer", "physical", "/nxsd.nlog"}},
		{"filter without output", "filter", []string{"/nxsd.nlog"}},
		{"missing file", "stats", []string{"/none.nlog"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(fs, tt.cmd, tt.args, &out))
		})
	}
}

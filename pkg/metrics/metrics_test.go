package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/hw"
	"github.com/nxs-stream/nxs-go/pkg/metrics"
	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/service"
)

type fakeService struct{ stats service.Stats }

func (f fakeService) Stats() service.Stats { return f.stats }

func newManager(t *testing.T) (*hw.Chip, *resource.Manager) {
	t.Helper()
	chip := hw.NewChip(hw.ChipConfig{})
	m := resource.NewManager(resource.Config{})
	for _, e := range []struct {
		kind  nxs.Kind
		index int
		line  int
	}{
		{nxs.KindDMAR, 0, -1},
		{nxs.KindDMAW, 0, 8},
		{nxs.KindDMAW, 1, 9},
	} {
		blk, err := chip.Block(e.kind, e.index)
		require.NoError(t, err)
		var irq node.InterruptSource
		if e.line >= 0 {
			irq = node.NewLineSource(chip.Interrupts(), e.line)
		}
		dev, err := node.New(node.Config{
			Kind:        e.kind,
			Index:       e.index,
			MaxRefcount: 1,
			Driver:      blk,
			Sink:        chip.Dirty(),
			IRQ:         irq,
		})
		require.NoError(t, err)
		require.NoError(t, m.RegisterNode(dev))
	}
	return chip, m
}

func startCopy(t *testing.T, m *resource.Manager) int {
	t.Helper()
	h, err := m.RequestFunction("copy", function.Request{Elements: []function.Element{
		{Kind: nxs.KindDMAR, Index: 0, Requester: nxs.RequesterKernel},
		{Kind: nxs.KindDMAW, Index: 0, Requester: nxs.RequesterKernel},
	}}, true)
	require.NoError(t, err)
	require.NoError(t, m.Connect(h))
	require.NoError(t, m.Start(h))
	return h
}

func TestCollectorManager(t *testing.T) {
	_, m := newManager(t)
	startCopy(t, m)

	_, err := m.GetNode(nxs.KindDMAR, 0, nxs.RequesterUser, false)
	require.Error(t, err)

	c := metrics.NewCollector(metrics.Config{Manager: m})

	expected := `
# HELP nxs_claims_granted_total Node claims granted.
# TYPE nxs_claims_granted_total counter
nxs_claims_granted_total 2
# HELP nxs_claims_rejected_total Node claims rejected as busy or unknown.
# TYPE nxs_claims_rejected_total counter
nxs_claims_rejected_total 1
# HELP nxs_node_refcount Current claim count of a node.
# TYPE nxs_node_refcount gauge
nxs_node_refcount{node="dmar.0"} 1
nxs_node_refcount{node="dmaw.0"} 1
nxs_node_refcount{node="dmaw.1"} 0
# HELP nxs_functions Registered functions by state and requester.
# TYPE nxs_functions gauge
nxs_functions{requester="kernel",state="started"} 1
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"nxs_claims_granted_total", "nxs_claims_rejected_total", "nxs_node_refcount", "nxs_functions")
	assert.NoError(t, err)
}

func TestCollectorInterruptsOnlyForWiredNodes(t *testing.T) {
	_, m := newManager(t)
	c := metrics.NewCollector(metrics.Config{Manager: m})

	// dmaw.0 and dmaw.1 have lines, dmar.0 does not.
	assert.Equal(t, 2, testutil.CollectAndCount(c, "nxs_node_interrupts_total"))
	assert.Equal(t, 3, testutil.CollectAndCount(c, "nxs_node_started"))
	assert.Equal(t, 0, testutil.CollectAndCount(c, "nxs_function_frames_total"))
}

func TestCollectorServiceAndFrames(t *testing.T) {
	chip, m := newManager(t)
	chip.VSync()
	chip.VSync()

	c := metrics.NewCollector(metrics.Config{
		Manager: m,
		Service: fakeService{service.Stats{Sessions: 3, Requests: 10, Failures: 2, Notifications: 5, Dropped: 1}},
		Frames:  chip,
	})

	expected := `
# HELP nxs_sessions Open control-plane sessions.
# TYPE nxs_sessions gauge
nxs_sessions 3
# HELP nxs_request_failures_total Control-plane requests that failed.
# TYPE nxs_request_failures_total counter
nxs_request_failures_total 2
# HELP nxs_notifications_dropped_total Frame notifications dropped on full session queues.
# TYPE nxs_notifications_dropped_total counter
nxs_notifications_dropped_total 1
# HELP nxs_vsync_total Vertical syncs raised by the chip.
# TYPE nxs_vsync_total counter
nxs_vsync_total 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"nxs_sessions", "nxs_request_failures_total", "nxs_notifications_dropped_total", "nxs_vsync_total")
	assert.NoError(t, err)
}

func TestCollectorOmitsOptionalSources(t *testing.T) {
	_, m := newManager(t)
	c := metrics.NewCollector(metrics.Config{Manager: m})

	assert.Equal(t, 0, testutil.CollectAndCount(c, "nxs_sessions"))
	assert.Equal(t, 0, testutil.CollectAndCount(c, "nxs_vsync_total"))
}

func TestHandler(t *testing.T) {
	_, m := newManager(t)
	startCopy(t, m)

	reg := metrics.NewRegistry(metrics.NewCollector(metrics.Config{Manager: m}))
	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `nxs_function_frames_total{handle="1",name="copy"} 0`)
	assert.Contains(t, body, "go_goroutines")
}

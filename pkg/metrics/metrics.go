// Package metrics exports manager, node and control-plane state as
// Prometheus metrics.
//
// The collector reads live state on every scrape; nothing is cached between
// scrapes and no manager lock is held while metrics are emitted.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/service"
)

// Namespace prefixes every metric name.
const Namespace = "nxs"

// ManagerSource is the part of resource.Manager the collector reads.
type ManagerSource interface {
	Stats() resource.Stats
	Nodes() []*node.Dev
	Functions() []*function.Function
}

// ServiceSource is the part of service.Service the collector reads.
type ServiceSource interface {
	Stats() service.Stats
}

// FrameSource counts vertical syncs, typically *hw.Chip.
type FrameSource interface {
	Frames() uint64
}

// Config selects what the collector exports. Only Manager is required.
type Config struct {
	Manager ManagerSource
	Service ServiceSource
	Frames  FrameSource
}

// Collector implements prometheus.Collector.
type Collector struct {
	cfg Config

	claimsGranted  *prometheus.Desc
	claimsRejected *prometheus.Desc
	releases       *prometheus.Desc
	underflows     *prometheus.Desc
	buildFailures  *prometheus.Desc

	nodeRefcount    *prometheus.Desc
	nodeMaxRefcount *prometheus.Desc
	nodeOpen        *prometheus.Desc
	nodeConnected   *prometheus.Desc
	nodeStarted     *prometheus.Desc
	nodeIRQs        *prometheus.Desc

	functions      *prometheus.Desc
	functionFrames *prometheus.Desc

	sessions      *prometheus.Desc
	requests      *prometheus.Desc
	failures      *prometheus.Desc
	notifications *prometheus.Desc
	dropped       *prometheus.Desc

	vsyncs *prometheus.Desc
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
}

// NewCollector creates a collector over cfg.
func NewCollector(cfg Config) *Collector {
	return &Collector{
		cfg: cfg,

		claimsGranted:  desc("claims_granted_total", "Node claims granted."),
		claimsRejected: desc("claims_rejected_total", "Node claims rejected as busy or unknown."),
		releases:       desc("releases_total", "Node claims released."),
		underflows:     desc("release_underflows_total", "Releases of nodes that held no claim."),
		buildFailures:  desc("build_failures_total", "Function requests that failed and were unwound."),

		nodeRefcount:    desc("node_refcount", "Current claim count of a node.", "node"),
		nodeMaxRefcount: desc("node_max_refcount", "Maximum claim count of a node.", "node"),
		nodeOpen:        desc("node_open_count", "Open sessions on a node.", "node"),
		nodeConnected:   desc("node_connect_count", "Connections on a node.", "node"),
		nodeStarted:     desc("node_started", "1 if the node is running.", "node"),
		nodeIRQs:        desc("node_interrupts_total", "Interrupts dispatched on a node.", "node", "irq"),

		functions:      desc("functions", "Registered functions by state and requester.", "state", "requester"),
		functionFrames: desc("function_frames_total", "Frames completed by a function.", "handle", "name"),

		sessions:      desc("sessions", "Open control-plane sessions."),
		requests:      desc("requests_total", "Control-plane requests handled."),
		failures:      desc("request_failures_total", "Control-plane requests that failed."),
		notifications: desc("notifications_total", "Frame notifications queued to sessions."),
		dropped:       desc("notifications_dropped_total", "Frame notifications dropped on full session queues."),

		vsyncs: desc("vsync_total", "Vertical syncs raised by the chip."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.claimsGranted, c.claimsRejected, c.releases, c.underflows, c.buildFailures,
		c.nodeRefcount, c.nodeMaxRefcount, c.nodeOpen, c.nodeConnected, c.nodeStarted, c.nodeIRQs,
		c.functions, c.functionFrames,
	} {
		ch <- d
	}
	if c.cfg.Service != nil {
		ch <- c.sessions
		ch <- c.requests
		ch <- c.failures
		ch <- c.notifications
		ch <- c.dropped
	}
	if c.cfg.Frames != nil {
		ch <- c.vsyncs
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), labels...)
	}

	m := c.cfg.Manager
	st := m.Stats()
	counter(c.claimsGranted, st.ClaimsGranted)
	counter(c.claimsRejected, st.ClaimsRejected)
	counter(c.releases, st.Releases)
	counter(c.underflows, st.Underflows)
	counter(c.buildFailures, st.BuildFailures)

	for _, dev := range m.Nodes() {
		s := dev.Snapshot()
		gauge(c.nodeRefcount, s.Refcount, s.Name)
		gauge(c.nodeMaxRefcount, s.MaxRefcount, s.Name)
		gauge(c.nodeOpen, s.OpenCount, s.Name)
		gauge(c.nodeConnected, s.ConnectCount, s.Name)
		started := 0
		if s.Started {
			started = 1
		}
		gauge(c.nodeStarted, started, s.Name)
		if s.IRQ != "" {
			counter(c.nodeIRQs, s.IRQCount, s.Name, s.IRQ)
		}
	}

	type stateKey struct{ state, requester string }
	counts := make(map[stateKey]int)
	for _, f := range m.Functions() {
		counts[stateKey{f.State().String(), f.Requester().String()}]++
		counter(c.functionFrames, f.Frames(), strconv.Itoa(f.Handle()), f.Name())
	}
	for k, n := range counts {
		gauge(c.functions, n, k.state, k.requester)
	}

	if c.cfg.Service != nil {
		ss := c.cfg.Service.Stats()
		gauge(c.sessions, ss.Sessions)
		counter(c.requests, ss.Requests)
		counter(c.failures, ss.Failures)
		counter(c.notifications, ss.Notifications)
		counter(c.dropped, ss.Dropped)
	}
	if c.cfg.Frames != nil {
		counter(c.vsyncs, c.cfg.Frames.Frames())
	}
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

package node

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Config describes a node at registration time.
type Config struct {
	Kind    nxs.Kind
	Index   int
	Version uint32

	// MaxRefcount bounds concurrent claims. Zero means one.
	MaxRefcount int

	// CanFollow permits one multitap follow claim on top of the refcount.
	// Only honoured for multitap-capable kinds.
	CanFollow bool

	// Driver implements the block. Required.
	Driver Driver

	// Dirty resolves dirty bits. Nil uses DefaultDirtyMap.
	Dirty *DirtyMap

	// Sink receives dirty commits. Nil commits nothing.
	Sink DirtySink

	// IRQ delivers frame ticks. Nil means the node never ticks.
	IRQ InterruptSource

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// Dev is one registered hardware block.
type Dev struct {
	kind        nxs.Kind
	index       int
	version     uint32
	maxRefcount int
	canFollow   bool

	driver   Driver
	services serviceTable
	dirty    *DirtyMap
	sink     DirtySink
	irq      InterruptSource
	logger   *slog.Logger

	// lifeMu serializes open/close/start/stop. It is never taken from an
	// interrupt callback.
	lifeMu sync.Mutex

	mu           sync.Mutex
	openCount    int
	started      bool
	connectCount int
	refcount     int
	followers    int
	claimants    [2]int
	tid1         uint32
	tid2         uint32
	pending      bool

	cbMu      sync.Mutex
	callbacks []*IRQCallback
	nextCB    uint64
	irqCount  atomic.Uint64
}

// New creates a node. The index must be within the kind's instance range.
func New(cfg Config) (*Dev, error) {
	if !cfg.Kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown kind %d", nxs.ErrInvalidArgument, cfg.Kind)
	}
	if cfg.Index == nxs.AnyInstance {
		return nil, fmt.Errorf("%w: node needs a concrete index", nxs.ErrInvalidArgument)
	}
	if err := cfg.Kind.CheckIndex(cfg.Index); err != nil {
		return nil, err
	}
	if cfg.Driver == nil {
		return nil, fmt.Errorf("%w: %s has no driver", nxs.ErrInvalidArgument, nxs.DeviceName(cfg.Kind, cfg.Index))
	}

	maxRef := cfg.MaxRefcount
	if maxRef <= 0 {
		maxRef = 1
	}
	dirty := cfg.Dirty
	if dirty == nil {
		dirty = DefaultDirtyMap()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Dev{
		kind:        cfg.Kind,
		index:       cfg.Index,
		version:     cfg.Version,
		maxRefcount: maxRef,
		canFollow:   cfg.CanFollow && cfg.Kind.CanMultitap(),
		driver:      cfg.Driver,
		services:    newServiceTable(cfg.Driver.Services()),
		dirty:       dirty,
		sink:        cfg.Sink,
		irq:         cfg.IRQ,
		logger:      logger.With("node", nxs.DeviceName(cfg.Kind, cfg.Index)),
	}, nil
}

// Kind returns the node's function kind.
func (d *Dev) Kind() nxs.Kind { return d.kind }

// Index returns the instance index.
func (d *Dev) Index() int { return d.index }

// Name returns the canonical device name, e.g. "dmar.0".
func (d *Dev) Name() string { return nxs.DeviceName(d.kind, d.index) }

// Version returns the block revision.
func (d *Dev) Version() uint32 { return d.version }

// MaxRefcount returns the claim ceiling.
func (d *Dev) MaxRefcount() int { return d.maxRefcount }

// CanFollow reports whether a multitap follow claim is allowed.
func (d *Dev) CanFollow() bool { return d.canFollow }

// InputTID returns the fabric port upstream nodes route to.
func (d *Dev) InputTID() uint32 { return nxs.InputTID(d.kind, d.index) }

// HasIRQ reports whether the node has an interrupt source.
func (d *Dev) HasIRQ() bool { return d.irq != nil }

// Controls lists the control types the node's driver implements.
func (d *Dev) Controls() []nxs.ControlType { return d.services.types() }

func (d *Dev) deviceError(op string, err error) error {
	return &nxs.DeviceError{Kind: d.kind, Index: d.index, Op: op, Err: err}
}

// Claim takes a claim for requester. A follow claim attaches the single
// multitap follower to an already claimed node and does not count toward the
// refcount.
func (d *Dev) Claim(requester nxs.Requester, follow bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if follow {
		if !d.canFollow {
			return fmt.Errorf("%w: %s cannot be followed", nxs.ErrInvalidArgument, d.Name())
		}
		if d.refcount == 0 {
			return fmt.Errorf("%w: %s followed before being claimed", nxs.ErrInvalidArgument, d.Name())
		}
		if d.followers > 0 {
			return fmt.Errorf("%w: %s already has a follower", nxs.ErrResourceBusy, d.Name())
		}
		d.followers++
		return nil
	}

	if d.refcount >= d.maxRefcount {
		return fmt.Errorf("%w: %s refcount %d/%d", nxs.ErrResourceBusy, d.Name(), d.refcount, d.maxRefcount)
	}
	d.refcount++
	if int(requester) < len(d.claimants) {
		d.claimants[requester]++
	}
	return nil
}

// Release drops one claim. It reports false when there was nothing to
// release, leaving the counters at zero.
func (d *Dev) Release(requester nxs.Requester, follow bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if follow {
		if d.followers == 0 {
			return false
		}
		d.followers--
		return true
	}

	if d.refcount == 0 {
		return false
	}
	d.refcount--
	if int(requester) < len(d.claimants) && d.claimants[requester] > 0 {
		d.claimants[requester]--
	}
	return true
}

// Refcount returns the current claim count.
func (d *Dev) Refcount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refcount
}

// Followers returns the number of multitap follow claims.
func (d *Dev) Followers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.followers
}

// Open starts a session. The first session opens the driver.
func (d *Dev) Open() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	first := d.openCount == 0
	d.mu.Unlock()

	if first {
		if err := d.driver.Open(); err != nil {
			return d.deviceError("open", err)
		}
	}

	d.mu.Lock()
	d.openCount++
	d.mu.Unlock()
	return nil
}

// Close ends a session. The last session stops the block if still running
// and closes the driver. Closing an unopened node is a no-op.
func (d *Dev) Close() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	if d.openCount == 0 {
		d.mu.Unlock()
		return nil
	}
	d.openCount--
	last := d.openCount == 0
	started := d.started
	d.mu.Unlock()

	if !last {
		return nil
	}
	if started {
		if err := d.stopLocked(); err != nil {
			d.logger.Warn("stop on last close failed", "error", err)
		}
	}
	if err := d.driver.Close(); err != nil {
		return d.deviceError("close", err)
	}
	return nil
}

// OpenCount returns the number of active sessions.
func (d *Dev) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCount
}

// Start starts the block and enables its interrupt source. Starting a
// running node is a no-op.
func (d *Dev) Start() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.driver.Start(); err != nil {
		return d.deviceError("start", err)
	}
	if d.irq != nil {
		if err := d.irq.Enable(d.dispatch); err != nil {
			if serr := d.driver.Stop(); serr != nil {
				d.logger.Warn("stop after irq enable failure", "error", serr)
			}
			return d.deviceError("irq enable", err)
		}
	}

	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

// Stop disables the interrupt source and stops the block. Stopping an idle
// node is a no-op.
func (d *Dev) Stop() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}
	return d.stopLocked()
}

// stopLocked requires lifeMu.
func (d *Dev) stopLocked() error {
	if d.irq != nil {
		d.irq.Disable()
	}
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()

	if err := d.driver.Stop(); err != nil {
		return d.deviceError("stop", err)
	}
	return nil
}

// Started reports whether the block is running.
func (d *Dev) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Connect records a function routing through the node.
func (d *Dev) Connect() {
	d.mu.Lock()
	d.connectCount++
	d.mu.Unlock()
}

// Disconnect drops a routing reference.
func (d *Dev) Disconnect() {
	d.mu.Lock()
	if d.connectCount > 0 {
		d.connectCount--
	}
	d.mu.Unlock()
}

// ConnectCount returns the number of functions routing through the node.
func (d *Dev) ConnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCount
}

// SetTID programs the output routing ids. TIDDefault leaves a slot as it is.
// tid2 is only accepted by multitap-capable nodes.
func (d *Dev) SetTID(tid1, tid2 uint32) error {
	if tid2 != nxs.TIDDefault && !d.kind.CanMultitap() {
		return fmt.Errorf("%w: %s has no second output", nxs.ErrInvalidArgument, d.Name())
	}

	d.mu.Lock()
	next1, next2 := d.tid1, d.tid2
	d.mu.Unlock()
	if tid1 != nxs.TIDDefault {
		next1 = tid1
	}
	if tid2 != nxs.TIDDefault {
		next2 = tid2
	}

	if err := d.driver.SetTID(next1, next2); err != nil {
		return d.deviceError("set tid", err)
	}

	d.mu.Lock()
	d.tid1, d.tid2 = next1, next2
	d.mu.Unlock()
	return nil
}

// TID returns the programmed routing ids.
func (d *Dev) TID() (tid1, tid2 uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tid1, d.tid2
}

// SetDirty commits shadow state. Kinds without a dirty mapping succeed
// without touching the hardware.
func (d *Dev) SetDirty(t DirtyType) error {
	bit, ok, err := d.dirty.Lookup(d.kind, d.index, t)
	if err != nil {
		return err
	}
	if ok && d.sink != nil {
		if err := d.sink.SetDirty(bit); err != nil {
			return d.deviceError("dirty "+t.String(), err)
		}
	}
	if t == DirtyNormal {
		d.mu.Lock()
		d.pending = false
		d.mu.Unlock()
	}
	return nil
}

// Pending reports whether SetControl has staged state not yet committed.
func (d *Dev) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// GetControl reads a control into ctrl. A type the node does not implement
// leaves ctrl untouched and succeeds.
func (d *Dev) GetControl(ct nxs.ControlType, ctrl *nxs.Control) error {
	if ctrl == nil {
		return fmt.Errorf("%w: nil control", nxs.ErrInvalidArgument)
	}
	s := d.services.lookup(ct)
	if s == nil || s.Get == nil {
		return nil
	}
	ctrl.Type = ct
	if err := s.Get(ctrl); err != nil {
		return d.deviceError("get "+ct.String(), err)
	}
	return nil
}

// SetControl writes a control to the node's shadow state. A type the node
// does not implement is a successful no-op.
func (d *Dev) SetControl(ct nxs.ControlType, ctrl *nxs.Control) error {
	if ctrl == nil {
		return fmt.Errorf("%w: nil control", nxs.ErrInvalidArgument)
	}
	s := d.services.lookup(ct)
	if s == nil || s.Set == nil {
		d.logger.Debug("control not implemented", "control", ct)
		return nil
	}
	ctrl.Type = ct
	if err := ctrl.Validate(); err != nil {
		return err
	}
	if err := s.Set(ctrl); err != nil {
		return d.deviceError("set "+ct.String(), err)
	}
	d.mu.Lock()
	d.pending = true
	d.mu.Unlock()
	return nil
}

// State is a point-in-time view of a node.
type State struct {
	Kind         nxs.Kind
	Index        int
	Name         string
	Version      uint32
	Refcount     int
	MaxRefcount  int
	Followers    int
	Kernel       int
	User         int
	OpenCount    int
	ConnectCount int
	Started      bool
	TID1         uint32
	TID2         uint32
	InputTID     uint32
	Pending      bool
	IRQ          string
	IRQCount     uint64
	Callbacks    int
}

// Snapshot returns the node's current state.
func (d *Dev) Snapshot() State {
	d.mu.Lock()
	s := State{
		Kind:         d.kind,
		Index:        d.index,
		Name:         d.Name(),
		Version:      d.version,
		Refcount:     d.refcount,
		MaxRefcount:  d.maxRefcount,
		Followers:    d.followers,
		Kernel:       d.claimants[nxs.RequesterKernel],
		User:         d.claimants[nxs.RequesterUser],
		OpenCount:    d.openCount,
		ConnectCount: d.connectCount,
		Started:      d.started,
		TID1:         d.tid1,
		TID2:         d.tid2,
		InputTID:     d.InputTID(),
		Pending:      d.pending,
		IRQCount:     d.irqCount.Load(),
	}
	d.mu.Unlock()

	if d.irq != nil {
		s.IRQ = d.irq.String()
	}
	d.cbMu.Lock()
	s.Callbacks = len(d.callbacks)
	d.cbMu.Unlock()
	return s
}

// String renders the state the way Query reports it.
func (s State) String() string {
	run := "stopped"
	if s.Started {
		run = "started"
	}
	return fmt.Sprintf("%s ref=%d/%d follow=%d open=%d connect=%d %s tid=%#x/%#x",
		s.Name, s.Refcount, s.MaxRefcount, s.Followers, s.OpenCount, s.ConnectCount, run, s.TID1, s.TID2)
}

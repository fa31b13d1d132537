package function

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmhodges/clock"

	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Claimer hands out and takes back node claims.
type Claimer interface {
	GetNode(kind nxs.Kind, index int, requester nxs.Requester, follow bool) (*node.Dev, error)
	PutNode(dev *node.Dev, requester nxs.Requester, follow bool)
}

// FrameHandler receives frame ticks of a started function.
type FrameHandler func(handle int, frame uint64)

// Options carries a function's ambient dependencies.
type Options struct {
	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// Trace receives state, claim and irq events. Nil disables tracing.
	Trace log.Logger

	// Clock timestamps trace events. Nil uses the wall clock.
	Clock clock.Clock
}

// slot is one programmed routing output.
type slot struct {
	pos    int
	second bool
}

type downstream struct {
	dev       *node.Dev
	held      bool
	requester nxs.Requester
}

// Function is a built graph of claimed nodes.
type Function struct {
	handle   int
	name     string
	req      Request
	nodes    []*node.Dev
	claimer  Claimer
	logger   *slog.Logger
	trace    log.Logger
	clk      clock.Clock
	external *downstream

	mu         sync.Mutex
	state      State
	opened     []bool
	programmed []slot
	display    int
	frameDev   *node.Dev
	frameCB    *node.IRQCallback

	frames  atomic.Uint64
	subMu   sync.Mutex
	subs    map[uint64]FrameHandler
	nextSub uint64
}

// Build validates req and claims every element in order. On failure every
// claim already taken is released in reverse order and no function exists.
func Build(claimer Claimer, handle int, name string, req Request, opts Options) (*Function, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f := &Function{
		handle:  handle,
		name:    name,
		req:     req.Clone(),
		claimer: claimer,
		logger:  opts.Logger,
		trace:   log.OrNoop(opts.Trace),
		clk:     opts.Clock,
		subs:    make(map[uint64]FrameHandler),
	}
	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}
	f.logger = f.logger.With("function", name, "handle", handle)
	if f.clk == nil {
		f.clk = clock.New()
	}

	for i, e := range f.req.Elements {
		dev, err := claimer.GetNode(e.Kind, e.Index, e.Requester, e.MultitapFollow)
		if err != nil {
			f.releaseClaims(len(f.nodes))
			return nil, fmt.Errorf("build %q: element %d (%s): %w", name, i, e, err)
		}
		// Resolve AnyInstance to what was actually claimed.
		f.req.Elements[i].Index = dev.Index()
		f.nodes = append(f.nodes, dev)
	}
	f.opened = make([]bool, len(f.nodes))
	f.state = StateBuilt
	f.emitState(StateBuilt, StateBuilt, "build")
	return f, nil
}

// releaseClaims puts the first n claims back in reverse order.
func (f *Function) releaseClaims(n int) {
	for i := n - 1; i >= 0; i-- {
		e := f.req.Elements[i]
		f.claimer.PutNode(f.nodes[i], e.Requester, e.MultitapFollow)
	}
}

// Handle returns the function's registry handle.
func (f *Function) Handle() int { return f.handle }

// Name returns the function's name.
func (f *Function) Name() string { return f.name }

// Request returns a copy of the request with resolved instance indexes.
func (f *Function) Request() Request { return f.req.Clone() }

// Requester returns the requester of the function's elements.
func (f *Function) Requester() nxs.Requester { return f.req.Elements[0].Requester }

// Nodes returns the resolved nodes in element order.
func (f *Function) Nodes() []*node.Dev {
	return append([]*node.Dev(nil), f.nodes...)
}

// Len returns the number of elements.
func (f *Function) Len() int { return len(f.nodes) }

// State returns the current lifecycle state.
func (f *Function) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetDownstream routes the tail into dev on Connect. When held is true the
// function owns a claim on dev and releases it on Destroy. Only valid before
// the first Connect.
func (f *Function) SetDownstream(dev *node.Dev, held bool, requester nxs.Requester) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateBuilt {
		return fmt.Errorf("%w: downstream set in state %s", nxs.ErrInvalidArgument, f.state)
	}
	f.external = &downstream{dev: dev, held: held, requester: requester}
	return nil
}

// Downstream returns the external node the tail routes into, or nil.
func (f *Function) Downstream() *node.Dev {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.external == nil {
		return nil
	}
	return f.external.dev
}

// Display returns the display the function belongs to.
func (f *Function) Display() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.display, f.display != 0
}

// SetDisplay records display membership. Zero clears it.
func (f *Function) SetDisplay(id int) {
	f.mu.Lock()
	f.display = id
	f.mu.Unlock()
}

func (f *Function) errFreed() error {
	return fmt.Errorf("%w: function %d is freed", nxs.ErrInvalidArgument, f.handle)
}

// program writes target into one output slot of dev.
func program(dev *node.Dev, second bool, target uint32) error {
	if second {
		return dev.SetTID(nxs.TIDDefault, target)
	}
	return dev.SetTID(target, nxs.TIDDefault)
}

// Connect wires the graph in request order. Element i routes to element
// i+1's input port unless i+1 is a multitap follow, which starts a new path.
// A follow element programs the multitap's second output. Connecting a
// connected function is a no-op.
func (f *Function) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.state == StateFreed:
		return f.errFreed()
	case f.state.connected():
		return nil
	}

	var programmed []slot
	for i, dev := range f.nodes {
		target := nxs.TIDDefault
		switch {
		case i+1 < len(f.nodes):
			if !f.req.Elements[i+1].MultitapFollow {
				target = f.nodes[i+1].InputTID()
			}
		case f.external != nil:
			target = f.external.dev.InputTID()
		}
		if target == nxs.TIDDefault {
			continue
		}

		s := slot{pos: i, second: f.req.Elements[i].MultitapFollow}
		if err := program(dev, s.second, target); err != nil {
			f.unprogram(programmed)
			return fmt.Errorf("connect %q: %w", f.name, err)
		}
		programmed = append(programmed, s)
	}

	for _, s := range programmed {
		if err := f.nodes[s.pos].SetDirty(node.DirtyTID); err != nil {
			f.unprogram(programmed)
			return fmt.Errorf("connect %q: %w", f.name, err)
		}
	}

	for _, dev := range f.nodes {
		dev.Connect()
	}
	f.programmed = programmed
	f.setState(StateConnected, "connect")
	return nil
}

// unprogram routes slots to the disconnected id in reverse order.
func (f *Function) unprogram(slots []slot) {
	for i := len(slots) - 1; i >= 0; i-- {
		s := slots[i]
		dev := f.nodes[s.pos]
		if err := program(dev, s.second, nxs.TIDDisconnected); err != nil {
			f.logger.Warn("disconnect tid failed", "node", dev.Name(), "error", err)
			continue
		}
		if err := dev.SetDirty(node.DirtyTID); err != nil {
			f.logger.Warn("disconnect commit failed", "node", dev.Name(), "error", err)
		}
	}
}

// Open opens every node in order. On failure the nodes opened by this call
// are closed again.
func (f *Function) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFreed {
		return f.errFreed()
	}

	var now []int
	for i, dev := range f.nodes {
		if f.opened[i] {
			continue
		}
		if err := dev.Open(); err != nil {
			for j := len(now) - 1; j >= 0; j-- {
				f.closeAt(now[j], false)
			}
			return fmt.Errorf("open %q: %w", f.name, err)
		}
		f.opened[i] = true
		now = append(now, i)
	}
	return nil
}

// Ready succeeds only when every node has an open session.
func (f *Function) Ready() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFreed {
		return f.errFreed()
	}
	for _, dev := range f.nodes {
		if dev.OpenCount() == 0 {
			return fmt.Errorf("%w: %s is not open", nxs.ErrNotReady, dev.Name())
		}
	}
	return nil
}

// Start opens and starts every node in request order. If node N fails,
// nodes 0..N are stopped and closed before the error is returned.
func (f *Function) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateFreed:
		return f.errFreed()
	case StateStarted:
		return nil
	case StateBuilt, StateDisconnected:
		return fmt.Errorf("%w: function %d is not connected", nxs.ErrInvalidArgument, f.handle)
	}

	for i, dev := range f.nodes {
		if !f.opened[i] {
			if err := dev.Open(); err != nil {
				f.unwind(i)
				return fmt.Errorf("start %q: %w", f.name, err)
			}
			f.opened[i] = true
		}
		if err := dev.Start(); err != nil {
			f.unwind(i + 1)
			return fmt.Errorf("start %q: %w", f.name, err)
		}
	}

	f.attachFrameSource()
	f.setState(StateStarted, "start")
	return nil
}

// unwind stops and closes the first n positions in reverse order.
func (f *Function) unwind(n int) {
	for i := n - 1; i >= 0; i-- {
		if f.opened[i] {
			f.closeAt(i, true)
		}
	}
}

// closeAt closes the session at position i, stopping the node first when
// this is its last session.
func (f *Function) closeAt(i int, stop bool) {
	dev := f.nodes[i]
	if stop && dev.OpenCount() == 1 {
		if err := dev.Stop(); err != nil {
			f.logger.Warn("stop failed", "node", dev.Name(), "error", err)
		}
	}
	if err := dev.Close(); err != nil {
		f.logger.Warn("close failed", "node", dev.Name(), "error", err)
	}
	f.opened[i] = false
}

// Stop stops the function in reverse order. A node keeps running while
// another function holds a session on it. Stopping an idle function is a
// no-op.
func (f *Function) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateStarted {
		return nil
	}
	f.stopLocked("stop")
	return nil
}

func (f *Function) stopLocked(reason string) {
	f.detachFrameSource()
	f.unwind(len(f.nodes))
	f.setState(StateStopped, reason)
}

// Disconnect routes every slot this function programmed to the
// disconnected id. A started function is stopped first.
func (f *Function) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.connected() {
		return nil
	}
	if f.state == StateStarted {
		f.stopLocked("disconnect")
	}
	f.disconnectLocked()
	return nil
}

func (f *Function) disconnectLocked() {
	f.unprogram(f.programmed)
	for i := len(f.nodes) - 1; i >= 0; i-- {
		f.nodes[i].Disconnect()
	}
	f.programmed = nil
	f.setState(StateDisconnected, "disconnect")
}

// Destroy tears the function down from any state and releases every claim
// in reverse order. Destroying a freed function is a no-op.
func (f *Function) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateFreed {
		return
	}
	if f.state == StateStarted {
		f.stopLocked("destroy")
	}
	// Sessions from an explicit Open without Start.
	f.unwind(len(f.nodes))
	if f.state.connected() {
		f.disconnectLocked()
	}

	if f.external != nil && f.external.held {
		f.claimer.PutNode(f.external.dev, f.external.requester, false)
	}
	f.external = nil
	f.releaseClaims(len(f.nodes))
	f.setState(StateFreed, "destroy")

	f.subMu.Lock()
	clear(f.subs)
	f.subMu.Unlock()
}

// SetControl writes a control on the node at position pos.
func (f *Function) SetControl(pos int, ct nxs.ControlType, ctrl *nxs.Control) error {
	dev, err := f.nodeAt(pos)
	if err != nil {
		return err
	}
	return dev.SetControl(ct, ctrl)
}

// GetControl reads a control from the node at position pos.
func (f *Function) GetControl(pos int, ct nxs.ControlType, ctrl *nxs.Control) error {
	dev, err := f.nodeAt(pos)
	if err != nil {
		return err
	}
	return dev.GetControl(ct, ctrl)
}

func (f *Function) nodeAt(pos int) (*node.Dev, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFreed {
		return nil, f.errFreed()
	}
	if pos < 0 || pos >= len(f.nodes) {
		return nil, fmt.Errorf("%w: position %d of %d", nxs.ErrInvalidArgument, pos, len(f.nodes))
	}
	return f.nodes[pos], nil
}

// Commit publishes pending shadow state of every node. It returns the
// number of nodes committed.
func (f *Function) Commit() (int, error) {
	var errs []error
	n := 0
	for _, dev := range f.nodes {
		if !dev.Pending() {
			continue
		}
		if err := dev.SetDirty(node.DirtyNormal); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (f *Function) setState(to State, reason string) {
	from := f.state
	f.state = to
	f.emitState(from, to, reason)
	f.logger.Debug("state", "from", from, "to", to)
}

func (f *Function) emitState(from, to State, reason string) {
	f.trace.Log(log.Event{
		Timestamp: f.clk.Now(),
		Layer:     log.LayerGraph,
		Category:  log.CategoryState,
		Handle:    f.handle,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityFunction,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

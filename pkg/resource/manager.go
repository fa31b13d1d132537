package resource

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jmhodges/clock"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Config configures a Manager.
type Config struct {
	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// Trace receives claim and state events. Nil disables tracing.
	Trace log.Logger

	// Clock timestamps trace events. Nil uses the wall clock.
	Clock clock.Clock
}

type nodeKey struct {
	kind  nxs.Kind
	index int
}

// Stats are cumulative manager counters.
type Stats struct {
	ClaimsGranted  uint64
	ClaimsRejected uint64
	Releases       uint64
	Underflows     uint64
	BuildFailures  uint64
}

// Manager is the resource manager.
type Manager struct {
	logger *slog.Logger
	trace  log.Logger
	clk    clock.Clock

	nodeMu sync.Mutex
	nodes  map[nodeKey]*node.Dev

	fnMu       sync.RWMutex
	functions  map[int]*function.Function
	siblingOf  map[int]int
	nextHandle int
	onAdded    []func(f *function.Function)
	onRemoved  []func(handle int)

	builderMu sync.RWMutex
	builders  map[function.Policy]Builder

	displayMu sync.RWMutex
	displays  map[int]*Display

	claimsGranted  atomic.Uint64
	claimsRejected atomic.Uint64
	releases       atomic.Uint64
	underflows     atomic.Uint64
	buildFailures  atomic.Uint64
}

// NewManager creates a manager with the default, multitap and blending
// builders registered.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		logger:    logger,
		trace:     log.OrNoop(cfg.Trace),
		clk:       clk,
		nodes:     make(map[nodeKey]*node.Dev),
		functions: make(map[int]*function.Function),
		siblingOf: make(map[int]int),
		builders:  make(map[function.Policy]Builder),
		displays:  make(map[int]*Display),
	}
	m.builders[function.PolicyDefault] = DefaultBuilder{}
	m.builders[function.PolicyMultitap] = MultitapBuilder{}
	m.builders[function.PolicyBlending] = BlendingBuilder{}
	return m
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		ClaimsGranted:  m.claimsGranted.Load(),
		ClaimsRejected: m.claimsRejected.Load(),
		Releases:       m.releases.Load(),
		Underflows:     m.underflows.Load(),
		BuildFailures:  m.buildFailures.Load(),
	}
}

// OnFunctionAdded registers a callback run after a function is registered.
func (m *Manager) OnFunctionAdded(fn func(f *function.Function)) {
	m.fnMu.Lock()
	defer m.fnMu.Unlock()
	m.onAdded = append(m.onAdded, fn)
}

// OnFunctionRemoved registers a callback run after a function is destroyed.
func (m *Manager) OnFunctionRemoved(fn func(handle int)) {
	m.fnMu.Lock()
	defer m.fnMu.Unlock()
	m.onRemoved = append(m.onRemoved, fn)
}

// RegisterNode adds a node to the registry.
func (m *Manager) RegisterNode(dev *node.Dev) error {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	key := nodeKey{dev.Kind(), dev.Index()}
	if _, exists := m.nodes[key]; exists {
		return fmt.Errorf("%w: %s already registered", nxs.ErrInvalidArgument, dev.Name())
	}
	m.nodes[key] = dev
	m.logger.Debug("node registered", "node", dev.Name(), "max_refcount", dev.MaxRefcount())
	return nil
}

// Node looks up a registered node.
func (m *Manager) Node(kind nxs.Kind, index int) (*node.Dev, error) {
	if err := kind.CheckIndex(index); err != nil {
		return nil, err
	}
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()
	dev, ok := m.nodes[nodeKey{kind, index}]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", nxs.ErrNotFound, nxs.DeviceName(kind, index))
	}
	return dev, nil
}

// Nodes returns every registered node ordered by kind and index.
func (m *Manager) Nodes() []*node.Dev {
	m.nodeMu.Lock()
	out := make([]*node.Dev, 0, len(m.nodes))
	for _, d := range m.nodes {
		out = append(out, d)
	}
	m.nodeMu.Unlock()

	slices.SortFunc(out, func(a, b *node.Dev) int {
		if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
			return c
		}
		return cmp.Compare(a.Index(), b.Index())
	})
	return out
}

// GetNode claims a node. AnyInstance claims the lowest registered index
// with room. A follow claim attaches the single multitap follower to an
// already claimed node. On ErrResourceBusy the refcount is unchanged.
func (m *Manager) GetNode(kind nxs.Kind, index int, requester nxs.Requester, follow bool) (*node.Dev, error) {
	if err := kind.CheckIndex(index); err != nil {
		return nil, err
	}

	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	if index == nxs.AnyInstance {
		return m.claimAny(kind, requester, follow)
	}

	dev, ok := m.nodes[nodeKey{kind, index}]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", nxs.ErrNotFound, nxs.DeviceName(kind, index))
	}
	if err := dev.Claim(requester, follow); err != nil {
		m.claimsRejected.Add(1)
		m.traceClaim(dev, log.ClaimActionReject, requester, follow)
		return nil, err
	}
	m.claimsGranted.Add(1)
	m.traceClaim(dev, log.ClaimActionGet, requester, follow)
	return dev, nil
}

// claimAny requires nodeMu.
func (m *Manager) claimAny(kind nxs.Kind, requester nxs.Requester, follow bool) (*node.Dev, error) {
	var lastErr error
	for i := 0; i < kind.MaxInstances(); i++ {
		dev, ok := m.nodes[nodeKey{kind, i}]
		if !ok {
			continue
		}
		if err := dev.Claim(requester, follow); err != nil {
			lastErr = err
			continue
		}
		m.claimsGranted.Add(1)
		m.traceClaim(dev, log.ClaimActionGet, requester, follow)
		return dev, nil
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: no %s registered", nxs.ErrNotFound, kind)
	}
	m.claimsRejected.Add(1)
	return nil, fmt.Errorf("%w: every %s is claimed", nxs.ErrResourceBusy, kind)
}

// PutNode releases a claim. Releasing below zero panics in nxsdebug builds
// and is logged and ignored otherwise.
func (m *Manager) PutNode(dev *node.Dev, requester nxs.Requester, follow bool) {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	if !dev.Release(requester, follow) {
		m.underflows.Add(1)
		if debugAssertions {
			panic(fmt.Sprintf("nxs: claim underflow on %s (follow=%v)", dev.Name(), follow))
		}
		m.logger.Error("claim underflow", "node", dev.Name(), "follow", follow)
		return
	}
	m.releases.Add(1)
	m.traceClaim(dev, log.ClaimActionPut, requester, follow)
}

func (m *Manager) traceClaim(dev *node.Dev, action log.ClaimAction, requester nxs.Requester, follow bool) {
	m.trace.Log(log.Event{
		Timestamp: m.clk.Now(),
		Layer:     log.LayerNode,
		Category:  log.CategoryClaim,
		Node:      dev.Name(),
		Claim: &log.ClaimEvent{
			Action:      action,
			Requester:   requester.String(),
			Follow:      follow,
			Refcount:    dev.Refcount(),
			MaxRefcount: dev.MaxRefcount(),
		},
	})
}

func (m *Manager) functionOptions() function.Options {
	return function.Options{Logger: m.logger, Trace: m.trace, Clock: m.clk}
}

// RequestFunction validates and builds a function and registers it under a
// new handle. With useBuilder the builder registered for the request's
// policy constructs it; otherwise the default builder does and policy flags
// are ignored. A sibling request needs the multitap builder.
func (m *Manager) RequestFunction(name string, req function.Request, useBuilder bool) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if req.SiblingHandle != 0 && !useBuilder {
		return 0, fmt.Errorf("%w: sibling %d requires the multitap builder", nxs.ErrInvalidArgument, req.SiblingHandle)
	}

	policy := function.PolicyDefault
	if useBuilder {
		policy = req.Policy()
	}
	b, err := m.builder(policy)
	if err != nil {
		return 0, err
	}

	m.fnMu.Lock()
	m.nextHandle++
	handle := m.nextHandle
	m.fnMu.Unlock()

	f, err := b.Build(m, handle, name, req)
	if err != nil {
		m.buildFailures.Add(1)
		return 0, err
	}

	m.fnMu.Lock()
	m.functions[handle] = f
	if req.SiblingHandle != 0 {
		m.siblingOf[handle] = req.SiblingHandle
	}
	m.fnMu.Unlock()

	if err := b.Attach(m, f); err != nil {
		m.fnMu.Lock()
		delete(m.functions, handle)
		delete(m.siblingOf, handle)
		m.fnMu.Unlock()
		f.Destroy()
		m.buildFailures.Add(1)
		return 0, err
	}

	m.logger.Info("function requested", "handle", handle, "name", name, "policy", policy, "elements", len(req.Elements))

	m.fnMu.RLock()
	added := slices.Clone(m.onAdded)
	m.fnMu.RUnlock()
	for _, fn := range added {
		fn(f)
	}
	return handle, nil
}

// RemoveFunction releases policy state, destroys the function and
// unregisters it. A function another function follows cannot be removed.
func (m *Manager) RemoveFunction(handle int, useBuilder bool) error {
	m.fnMu.Lock()
	f, ok := m.functions[handle]
	if !ok {
		m.fnMu.Unlock()
		return fmt.Errorf("%w: function %d", nxs.ErrNotFound, handle)
	}
	for follower, sibling := range m.siblingOf {
		if sibling == handle {
			m.fnMu.Unlock()
			return fmt.Errorf("%w: function %d is followed by %d", nxs.ErrResourceBusy, handle, follower)
		}
	}
	delete(m.functions, handle)
	delete(m.siblingOf, handle)
	removed := slices.Clone(m.onRemoved)
	m.fnMu.Unlock()

	policy := function.PolicyDefault
	if useBuilder {
		req := f.Request()
		policy = req.Policy()
	}
	if b, err := m.builder(policy); err == nil {
		b.Remove(m, f)
	} else {
		m.logger.Warn("remove without builder", "handle", handle, "policy", policy)
	}
	m.releaseDisplay(f)

	f.Destroy()
	m.logger.Info("function removed", "handle", handle, "name", f.Name())

	for _, fn := range removed {
		fn(handle)
	}
	return nil
}

// Function returns a registered function.
func (m *Manager) Function(handle int) (*function.Function, error) {
	m.fnMu.RLock()
	defer m.fnMu.RUnlock()
	f, ok := m.functions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: function %d", nxs.ErrNotFound, handle)
	}
	return f, nil
}

// Functions returns every registered function ordered by handle.
func (m *Manager) Functions() []*function.Function {
	m.fnMu.RLock()
	out := make([]*function.Function, 0, len(m.functions))
	for _, f := range m.functions {
		out = append(out, f)
	}
	m.fnMu.RUnlock()

	slices.SortFunc(out, func(a, b *function.Function) int {
		return cmp.Compare(a.Handle(), b.Handle())
	})
	return out
}

// FunctionsByName returns the functions registered under name.
func (m *Manager) FunctionsByName(name string) []*function.Function {
	var out []*function.Function
	for _, f := range m.Functions() {
		if f.Name() == name {
			out = append(out, f)
		}
	}
	return out
}

// Connect wires a function.
func (m *Manager) Connect(handle int) error {
	f, err := m.Function(handle)
	if err != nil {
		return err
	}
	return f.Connect()
}

// Start starts a function. A display member starts under the display's
// read lock so membership cannot change underneath it.
func (m *Manager) Start(handle int) error {
	f, err := m.Function(handle)
	if err != nil {
		return err
	}
	if id, ok := f.Display(); ok {
		if d, derr := m.Display(id); derr == nil {
			d.mu.RLock()
			defer d.mu.RUnlock()
		}
	}
	return f.Start()
}

// Stop stops a function.
func (m *Manager) Stop(handle int) error {
	f, err := m.Function(handle)
	if err != nil {
		return err
	}
	return f.Stop()
}

// Disconnect unwires a function.
func (m *Manager) Disconnect(handle int) error {
	f, err := m.Function(handle)
	if err != nil {
		return err
	}
	return f.Disconnect()
}

// RegisterIRQCallback registers a frame-tick handler on a node.
func (m *Manager) RegisterIRQCallback(kind nxs.Kind, index int, fn node.IRQHandler, data any) (*node.IRQCallback, error) {
	dev, err := m.Node(kind, index)
	if err != nil {
		return nil, err
	}
	return dev.RegisterIRQCallback(fn, data)
}

// UnregisterIRQCallback removes a handler registered with
// RegisterIRQCallback.
func (m *Manager) UnregisterIRQCallback(kind nxs.Kind, index int, cb *node.IRQCallback) error {
	dev, err := m.Node(kind, index)
	if err != nil {
		return err
	}
	return dev.UnregisterIRQCallback(cb)
}

// Shutdown removes every function, followers before the functions they
// follow, newest first.
func (m *Manager) Shutdown() error {
	var errs []error
	for {
		fns := m.Functions()
		if len(fns) == 0 {
			return errors.Join(errs...)
		}
		progress := false
		for i := len(fns) - 1; i >= 0; i-- {
			err := m.RemoveFunction(fns[i].Handle(), true)
			if err == nil {
				progress = true
				continue
			}
			if !errors.Is(err, nxs.ErrResourceBusy) {
				errs = append(errs, err)
			}
		}
		if !progress {
			return errors.Join(append(errs, fmt.Errorf("%w: %d functions left", nxs.ErrResourceBusy, len(fns)))...)
		}
	}
}

package resource

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Display aggregates functions composited onto one output.
type Display struct {
	id   int
	name string
	sink int

	// mu is held for writing on membership changes and for reading while a
	// member function starts.
	mu      sync.RWMutex
	members []int
}

// ID returns the display id.
func (d *Display) ID() int { return d.id }

// Name returns the display name.
func (d *Display) Name() string { return d.name }

// Sink returns the handle of the function driving the output, or zero.
func (d *Display) Sink() int { return d.sink }

// Members returns member handles in join order.
func (d *Display) Members() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.members)
}

// RegisterDisplay creates a display. sinkHandle names the function whose
// first node receives blended input; zero registers a display without one.
func (m *Manager) RegisterDisplay(id int, name string, sinkHandle int) error {
	if id <= 0 {
		return fmt.Errorf("%w: display id %d", nxs.ErrInvalidArgument, id)
	}
	if sinkHandle != 0 {
		if _, err := m.Function(sinkHandle); err != nil {
			return fmt.Errorf("display sink: %w", err)
		}
	}

	m.displayMu.Lock()
	defer m.displayMu.Unlock()
	if _, exists := m.displays[id]; exists {
		return fmt.Errorf("%w: display %d already registered", nxs.ErrInvalidArgument, id)
	}
	m.displays[id] = &Display{id: id, name: name, sink: sinkHandle}
	m.traceDisplay(id, 0, "", "registered")
	return nil
}

// UnregisterDisplay removes a display without members.
func (m *Manager) UnregisterDisplay(id int) error {
	m.displayMu.Lock()
	defer m.displayMu.Unlock()
	d, ok := m.displays[id]
	if !ok {
		return fmt.Errorf("%w: display %d", nxs.ErrNotFound, id)
	}
	if n := len(d.Members()); n > 0 {
		return fmt.Errorf("%w: display %d has %d members", nxs.ErrResourceBusy, id, n)
	}
	delete(m.displays, id)
	m.traceDisplay(id, 0, "registered", "")
	return nil
}

// Display returns a registered display.
func (m *Manager) Display(id int) (*Display, error) {
	m.displayMu.RLock()
	defer m.displayMu.RUnlock()
	d, ok := m.displays[id]
	if !ok {
		return nil, fmt.Errorf("%w: display %d", nxs.ErrNotFound, id)
	}
	return d, nil
}

// Displays returns every display ordered by id.
func (m *Manager) Displays() []*Display {
	m.displayMu.RLock()
	out := make([]*Display, 0, len(m.displays))
	for _, d := range m.displays {
		out = append(out, d)
	}
	m.displayMu.RUnlock()
	slices.SortFunc(out, func(a, b *Display) int { return cmp.Compare(a.id, b.id) })
	return out
}

// AddToDisplay makes a function a member of a display. Adding a member
// again is a no-op; a function belongs to at most one display.
func (m *Manager) AddToDisplay(id, handle int) error {
	f, err := m.Function(handle)
	if err != nil {
		return err
	}
	d, err := m.Display(id)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if slices.Contains(d.members, handle) {
		return nil
	}
	if cur, ok := f.Display(); ok && cur != id {
		return fmt.Errorf("%w: function %d already belongs to display %d", nxs.ErrInvalidArgument, handle, cur)
	}
	d.members = append(d.members, handle)
	f.SetDisplay(id)
	m.traceDisplay(id, handle, "", "member")
	return nil
}

// RemoveFromDisplay drops a function from a display.
func (m *Manager) RemoveFromDisplay(id, handle int) error {
	d, err := m.Display(id)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.Index(d.members, handle)
	if i < 0 {
		return fmt.Errorf("%w: function %d in display %d", nxs.ErrNotFound, handle, id)
	}
	d.members = slices.Delete(d.members, i, i+1)
	if f, err := m.Function(handle); err == nil {
		f.SetDisplay(0)
	}
	m.traceDisplay(id, handle, "member", "")
	return nil
}

// releaseDisplay drops a function being removed from its display.
func (m *Manager) releaseDisplay(f *function.Function) {
	id, ok := f.Display()
	if !ok {
		return
	}
	d, err := m.Display(id)
	if err != nil {
		return
	}
	d.mu.Lock()
	if i := slices.Index(d.members, f.Handle()); i >= 0 {
		d.members = slices.Delete(d.members, i, i+1)
	}
	d.mu.Unlock()
	f.SetDisplay(0)
}

func (m *Manager) traceDisplay(id, handle int, from, to string) {
	m.trace.Log(log.Event{
		Timestamp: m.clk.Now(),
		Layer:     log.LayerGraph,
		Category:  log.CategoryState,
		Handle:    handle,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDisplay,
			OldState: from,
			NewState: to,
			Reason:   fmt.Sprintf("display %d", id),
		},
	})
}

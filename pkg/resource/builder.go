package resource

import (
	"fmt"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Builder constructs functions for one request policy.
type Builder interface {
	// Policy is the request policy the builder serves.
	Policy() function.Policy

	// Build claims nodes and returns an unregistered function.
	Build(m *Manager, handle int, name string, req function.Request) (*function.Function, error)

	// Attach runs after the function is registered. An error makes the
	// manager unregister and destroy it.
	Attach(m *Manager, f *function.Function) error

	// Remove releases policy state before the function is destroyed.
	Remove(m *Manager, f *function.Function)
}

// RegisterFunctionBuilder adds a builder for its policy. A policy can have
// one builder at a time.
func (m *Manager) RegisterFunctionBuilder(b Builder) error {
	m.builderMu.Lock()
	defer m.builderMu.Unlock()
	if _, exists := m.builders[b.Policy()]; exists {
		return fmt.Errorf("%w: builder for %s already registered", nxs.ErrInvalidArgument, b.Policy())
	}
	m.builders[b.Policy()] = b
	return nil
}

// UnregisterFunctionBuilder removes the builder for a policy. The default
// builder cannot be removed.
func (m *Manager) UnregisterFunctionBuilder(policy function.Policy) error {
	if policy == function.PolicyDefault {
		return fmt.Errorf("%w: default builder is permanent", nxs.ErrInvalidArgument)
	}
	m.builderMu.Lock()
	defer m.builderMu.Unlock()
	if _, exists := m.builders[policy]; !exists {
		return fmt.Errorf("%w: builder %s", nxs.ErrNotFound, policy)
	}
	delete(m.builders, policy)
	return nil
}

// Builders lists the registered policies.
func (m *Manager) Builders() []function.Policy {
	m.builderMu.RLock()
	defer m.builderMu.RUnlock()
	out := make([]function.Policy, 0, len(m.builders))
	for p := range m.builders {
		out = append(out, p)
	}
	return out
}

func (m *Manager) builder(policy function.Policy) (Builder, error) {
	m.builderMu.RLock()
	defer m.builderMu.RUnlock()
	b, ok := m.builders[policy]
	if !ok {
		return nil, fmt.Errorf("%w: no builder for %s", nxs.ErrInvalidArgument, policy)
	}
	return b, nil
}

// DefaultBuilder builds the elements in order with no extra routing.
type DefaultBuilder struct{}

func (DefaultBuilder) Policy() function.Policy { return function.PolicyDefault }

func (DefaultBuilder) Build(m *Manager, handle int, name string, req function.Request) (*function.Function, error) {
	return function.Build(m, handle, name, req, m.functionOptions())
}

func (DefaultBuilder) Attach(*Manager, *function.Function) error { return nil }

func (DefaultBuilder) Remove(*Manager, *function.Function) {}

// MultitapBuilder builds fan-out topologies. Within one request, follow
// elements open new paths from a multitap claimed earlier. Across requests,
// SiblingHandle names the function owning the multitap and the request's
// first element must follow one of the sibling's multitaps.
type MultitapBuilder struct{}

func (MultitapBuilder) Policy() function.Policy { return function.PolicyMultitap }

func (MultitapBuilder) Build(m *Manager, handle int, name string, req function.Request) (*function.Function, error) {
	if req.SiblingHandle != 0 {
		sibling, err := m.Function(req.SiblingHandle)
		if err != nil {
			return nil, fmt.Errorf("sibling: %w", err)
		}
		first := req.Elements[0]
		if !first.MultitapFollow {
			return nil, fmt.Errorf("%w: sibling request must start with a follow element", nxs.ErrInvalidArgument)
		}
		if !ownsMultitap(sibling, first.Kind, first.Index) {
			return nil, fmt.Errorf("%w: function %d does not own %s",
				nxs.ErrInvalidArgument, req.SiblingHandle, nxs.DeviceName(first.Kind, first.Index))
		}
	}
	return function.Build(m, handle, name, req, m.functionOptions())
}

func ownsMultitap(f *function.Function, kind nxs.Kind, index int) bool {
	for _, e := range f.Request().Elements {
		if e.Kind == kind && e.Index == index && !e.MultitapFollow {
			return true
		}
	}
	return false
}

func (MultitapBuilder) Attach(*Manager, *function.Function) error { return nil }

func (MultitapBuilder) Remove(*Manager, *function.Function) {}

// BlendingBuilder routes a function's tail into a compositor.
// blend_to_bottom claims the MLC bottom layer BottomID and holds it for the
// function's lifetime. blend_to_other routes into the input of the sink
// function of display DisplayID and joins the display.
type BlendingBuilder struct{}

func (BlendingBuilder) Policy() function.Policy { return function.PolicyBlending }

func (BlendingBuilder) Build(m *Manager, handle int, name string, req function.Request) (*function.Function, error) {
	requester := req.Elements[0].Requester

	switch {
	case req.Flags&function.FlagBlendToBottom != 0:
		bottom, err := m.GetNode(nxs.KindMLCBottom, req.BottomID, requester, false)
		if err != nil {
			return nil, fmt.Errorf("blend to bottom: %w", err)
		}
		f, err := function.Build(m, handle, name, req, m.functionOptions())
		if err != nil {
			m.PutNode(bottom, requester, false)
			return nil, err
		}
		if err := f.SetDownstream(bottom, true, requester); err != nil {
			m.PutNode(bottom, requester, false)
			f.Destroy()
			return nil, err
		}
		return f, nil

	case req.Flags&function.FlagBlendToOther != 0:
		d, err := m.Display(req.DisplayID)
		if err != nil {
			return nil, fmt.Errorf("blend to other: %w", err)
		}
		if d.Sink() == 0 {
			return nil, fmt.Errorf("%w: display %d has no sink", nxs.ErrInvalidArgument, d.ID())
		}
		sink, err := m.Function(d.Sink())
		if err != nil {
			return nil, fmt.Errorf("blend to other: sink: %w", err)
		}
		f, err := function.Build(m, handle, name, req, m.functionOptions())
		if err != nil {
			return nil, err
		}
		if err := f.SetDownstream(sink.Nodes()[0], false, requester); err != nil {
			f.Destroy()
			return nil, err
		}
		return f, nil
	}
	return function.Build(m, handle, name, req, m.functionOptions())
}

func (BlendingBuilder) Attach(m *Manager, f *function.Function) error {
	req := f.Request()
	if req.Flags&function.FlagBlendToOther == 0 {
		return nil
	}
	return m.AddToDisplay(req.DisplayID, f.Handle())
}

func (BlendingBuilder) Remove(m *Manager, f *function.Function) {
	id, ok := f.Display()
	if !ok {
		return
	}
	if err := m.RemoveFromDisplay(id, f.Handle()); err != nil {
		m.logger.Warn("leave display", "handle", f.Handle(), "display", id, "error", err)
	}
}

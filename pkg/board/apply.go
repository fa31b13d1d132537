package board

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmhodges/clock"

	"github.com/nxs-stream/nxs-go/pkg/hw"
	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/resource"
)

// Env is what a board is applied to.
type Env struct {
	Manager *resource.Manager
	Chip    *hw.Chip

	// Clock drives polling interrupt sources. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// Applied reports what Apply set up.
type Applied struct {
	Nodes     int
	Functions map[string]int
	Displays  []int
}

// Apply registers the board's nodes, builds its kernel functions and
// registers its displays. Display sinks are built first so that displays
// exist before functions blend into them. On a function or display error
// everything Apply built is torn down again; registered nodes remain.
func Apply(b *Board, env Env) (*Applied, error) {
	if env.Manager == nil || env.Chip == nil {
		return nil, errors.New("board: manager and chip are required")
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := env.Clock
	if clk == nil {
		clk = clock.New()
	}

	out := &Applied{Functions: make(map[string]int)}

	for _, spec := range b.Nodes {
		n, err := registerNodes(b, spec, env, clk, logger)
		out.Nodes += n
		if err != nil {
			return out, err
		}
	}

	a := applier{b: b, m: env.Manager, logger: logger, out: out}
	if err := a.run(); err != nil {
		a.rollback()
		return nil, err
	}
	logger.Info("board applied", "board", b.Name, "nodes", out.Nodes,
		"functions", len(out.Functions), "displays", len(out.Displays))
	return out, nil
}

func registerNodes(b *Board, spec NodeSpec, env Env, clk clock.Clock, logger *slog.Logger) (int, error) {
	k, err := spec.kind()
	if err != nil {
		return 0, err
	}
	version := spec.Version
	if version == 0 {
		version = b.Version
	}

	n := 0
	for j, idx := range spec.indexes(k) {
		blk, err := env.Chip.Block(k, idx)
		if err != nil {
			return n, err
		}
		var src node.InterruptSource
		switch {
		case spec.IRQ != nil:
			src = node.NewLineSource(env.Chip.Interrupts(), *spec.IRQ+j)
		case spec.Poll > 0:
			src = node.NewTimerSource(spec.Poll, clk)
		}
		dev, err := node.New(node.Config{
			Kind:        k,
			Index:       idx,
			Version:     version,
			MaxRefcount: spec.MaxRefcount,
			CanFollow:   spec.Follow,
			Driver:      blk,
			Sink:        env.Chip.Dirty(),
			IRQ:         src,
			Logger:      logger,
		})
		if err != nil {
			return n, err
		}
		if err := env.Manager.RegisterNode(dev); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type applier struct {
	b      *Board
	m      *resource.Manager
	logger *slog.Logger
	out    *Applied

	// order records handles in build order for rollback.
	order []int
}

func (a *applier) run() error {
	sinks := make(map[string]bool)
	for _, d := range a.b.Displays {
		if d.Sink != "" {
			sinks[d.Sink] = true
		}
	}

	for _, f := range a.b.Functions {
		if sinks[f.Name] {
			if err := a.build(f); err != nil {
				return err
			}
		}
	}

	for _, d := range a.b.Displays {
		sink := 0
		if d.Sink != "" {
			sink = a.out.Functions[d.Sink]
		}
		if err := a.m.RegisterDisplay(d.ID, d.Name, sink); err != nil {
			return fmt.Errorf("display %d: %w", d.ID, err)
		}
		a.out.Displays = append(a.out.Displays, d.ID)
	}

	for _, f := range a.b.Functions {
		if !sinks[f.Name] {
			if err := a.build(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *applier) build(f FunctionSpec) error {
	req, err := f.Request(a.out.Functions)
	if err != nil {
		return err
	}
	h, err := a.m.RequestFunction(f.Name, req, true)
	if err != nil {
		return fmt.Errorf("function %q: %w", f.Name, err)
	}
	a.out.Functions[f.Name] = h
	a.order = append(a.order, h)

	if !f.Start {
		return nil
	}
	if err := a.m.Connect(h); err != nil {
		return fmt.Errorf("function %q: %w", f.Name, err)
	}
	if err := a.m.Start(h); err != nil {
		return fmt.Errorf("function %q: %w", f.Name, err)
	}
	a.logger.Debug("kernel function started", "function", f.Name, "handle", h)
	return nil
}

func (a *applier) rollback() {
	for i := len(a.order) - 1; i >= 0; i-- {
		// Followers were built after the functions they follow.
		if err := a.m.RemoveFunction(a.order[i], true); err != nil {
			a.logger.Warn("rollback function", "handle", a.order[i], "error", err)
		}
	}
	for _, id := range a.out.Displays {
		if err := a.m.UnregisterDisplay(id); err != nil {
			a.logger.Warn("rollback display", "display", id, "error", err)
		}
	}
}

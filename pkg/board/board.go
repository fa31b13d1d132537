package board

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Board is a parsed board description.
type Board struct {
	Name    string `yaml:"name"`
	Version uint32 `yaml:"version"`

	// IRQLines is the interrupt controller size. Zero uses the default.
	IRQLines int `yaml:"irq_lines"`

	// VSync is the simulated frame period. Zero uses the default.
	VSync time.Duration `yaml:"vsync"`

	Nodes     []NodeSpec     `yaml:"nodes"`
	Displays  []DisplaySpec  `yaml:"displays"`
	Functions []FunctionSpec `yaml:"functions"`
}

// NodeSpec declares the instances of one block kind.
type NodeSpec struct {
	Kind string `yaml:"kind"`

	// Instances lists the present indexes. Empty means every instance the
	// kind has.
	Instances []int `yaml:"instances"`

	MaxRefcount int    `yaml:"max_refcount"`
	Follow      bool   `yaml:"follow"`
	Version     uint32 `yaml:"version"`

	// IRQ is the line of the first listed instance; the others follow
	// consecutively.
	IRQ *int `yaml:"irq"`

	// Poll enables a timer interrupt source for blocks without a line.
	Poll time.Duration `yaml:"poll"`
}

// DisplaySpec declares a display.
type DisplaySpec struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`

	// Sink names the kernel function driving the output.
	Sink string `yaml:"sink"`
}

// FunctionSpec declares a kernel function built at boot.
type FunctionSpec struct {
	Name     string `yaml:"name"`
	Elements string `yaml:"elements"`
	Flags    string `yaml:"flags"`

	// Sibling names an earlier function whose multitap this one follows.
	Sibling string `yaml:"sibling"`

	Display int  `yaml:"display"`
	Bottom  int  `yaml:"bottom"`
	Start   bool `yaml:"start"`
}

// kind returns the parsed block kind.
func (n NodeSpec) kind() (nxs.Kind, error) {
	return nxs.ParseKind(n.Kind)
}

// indexes returns the declared instances, defaulting to all of them.
func (n NodeSpec) indexes(k nxs.Kind) []int {
	if len(n.Instances) > 0 {
		return n.Instances
	}
	out := make([]int, k.MaxInstances())
	for i := range out {
		out[i] = i
	}
	return out
}

// Request converts the spec to a kernel function request. siblings maps
// function names to handles for Sibling lookups.
func (f FunctionSpec) Request(siblings map[string]int) (function.Request, error) {
	elems, err := function.ParseElements(f.Elements)
	if err != nil {
		return function.Request{}, fmt.Errorf("function %q: %w", f.Name, err)
	}
	flags, err := function.ParseFlags(f.Flags)
	if err != nil {
		return function.Request{}, fmt.Errorf("function %q: %w", f.Name, err)
	}
	req := function.Request{
		Elements:  elems,
		Flags:     flags,
		DisplayID: f.Display,
		BottomID:  f.Bottom,
	}
	if f.Sibling != "" {
		h, ok := siblings[f.Sibling]
		if !ok {
			return function.Request{}, fmt.Errorf("%w: function %q: sibling %q not built yet", nxs.ErrInvalidArgument, f.Name, f.Sibling)
		}
		req.SiblingHandle = h
	}
	return req.WithRequester(nxs.RequesterKernel), nil
}

// Load reads and validates a board file.
func Load(fs afero.Fs, path string) (*Board, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read board: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Parse decodes and validates a board description. Unknown keys are
// rejected.
func Parse(data []byte) (*Board, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Board
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty board file", nxs.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%w: YAML parse error: %v", nxs.ErrInvalidArgument, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks cross references without touching any manager.
func (b *Board) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("%w: board has no name", nxs.ErrInvalidArgument)
	}

	type key struct {
		kind  nxs.Kind
		index int
	}
	seen := make(map[key]bool)
	for i, n := range b.Nodes {
		k, err := n.kind()
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		if n.MaxRefcount < 0 {
			return fmt.Errorf("%w: node %d: negative max_refcount", nxs.ErrInvalidArgument, i)
		}
		if n.Follow && !k.CanMultitap() {
			return fmt.Errorf("%w: node %d: %s cannot be followed", nxs.ErrInvalidArgument, i, k)
		}
		if n.IRQ != nil && n.Poll > 0 {
			return fmt.Errorf("%w: node %d: irq and poll are exclusive", nxs.ErrInvalidArgument, i)
		}
		for _, idx := range n.indexes(k) {
			if idx == nxs.AnyInstance {
				return fmt.Errorf("%w: node %d: instance must be concrete", nxs.ErrInvalidArgument, i)
			}
			if err := k.CheckIndex(idx); err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
			if seen[key{k, idx}] {
				return fmt.Errorf("%w: %s declared twice", nxs.ErrInvalidArgument, nxs.DeviceName(k, idx))
			}
			seen[key{k, idx}] = true
		}
	}

	// Placeholder handles stand in for the ones Apply assigns.
	names := make(map[string]int)
	for i, f := range b.Functions {
		if f.Name == "" {
			return fmt.Errorf("%w: function %d has no name", nxs.ErrInvalidArgument, i)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%w: function %q declared twice", nxs.ErrInvalidArgument, f.Name)
		}
		req, err := f.Request(names)
		if err != nil {
			return err
		}
		names[f.Name] = i + 1
		if err := req.Validate(); err != nil {
			return fmt.Errorf("function %q: %w", f.Name, err)
		}
	}

	ids := make(map[int]bool)
	sinks := make(map[string]bool)
	for _, d := range b.Displays {
		if d.ID <= 0 {
			return fmt.Errorf("%w: display id %d", nxs.ErrInvalidArgument, d.ID)
		}
		if ids[d.ID] {
			return fmt.Errorf("%w: display %d declared twice", nxs.ErrInvalidArgument, d.ID)
		}
		ids[d.ID] = true
		if d.Sink == "" {
			continue
		}
		if _, ok := names[d.Sink]; !ok {
			return fmt.Errorf("%w: display %d: unknown sink %q", nxs.ErrInvalidArgument, d.ID, d.Sink)
		}
		sinks[d.Sink] = true
	}

	for _, f := range b.Functions {
		if sinks[f.Name] && f.Sibling != "" {
			return fmt.Errorf("%w: display sink %q cannot follow a sibling", nxs.ErrInvalidArgument, f.Name)
		}
		flags, _ := function.ParseFlags(f.Flags)
		if flags&function.FlagBlendToOther != 0 {
			if !ids[f.Display] {
				return fmt.Errorf("%w: function %q: unknown display %d", nxs.ErrInvalidArgument, f.Name, f.Display)
			}
			if sinks[f.Name] {
				return fmt.Errorf("%w: display sink %q cannot blend into a display", nxs.ErrInvalidArgument, f.Name)
			}
		}
	}
	return nil
}

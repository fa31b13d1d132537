package function

import (
	"fmt"
	"strings"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Element is one pipeline stage of a request.
type Element struct {
	Kind      nxs.Kind
	Index     int
	Requester nxs.Requester

	// MultitapFollow claims the second output of a multitap already claimed
	// earlier in the same request or by the sibling function.
	MultitapFollow bool
}

// String renders the element the way ParseElements accepts it.
func (e Element) String() string {
	s := fmt.Sprintf("%s:%d", e.Kind, e.Index)
	if e.Index == nxs.AnyInstance {
		s = fmt.Sprintf("%s:any", e.Kind)
	}
	if e.MultitapFollow {
		s += ":follow"
	}
	return s
}

// Flags select builder policies.
type Flags uint32

const (
	// FlagBlendToOther routes the tail into a registered display.
	FlagBlendToOther Flags = 1 << iota
	// FlagBlendToBottom routes the tail into an MLC bottom layer.
	FlagBlendToBottom
	// FlagMultiPath allows multitap follow elements within the request.
	FlagMultiPath
)

// String lists the set flags.
func (f Flags) String() string {
	var parts []string
	if f&FlagBlendToOther != 0 {
		parts = append(parts, "blend_to_other")
	}
	if f&FlagBlendToBottom != 0 {
		parts = append(parts, "blend_to_bottom")
	}
	if f&FlagMultiPath != 0 {
		parts = append(parts, "multi_path")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Policy names a builder strategy.
type Policy string

const (
	PolicyDefault  Policy = "default"
	PolicyBlending Policy = "blending"
	PolicyMultitap Policy = "multitap"
)

// Request is an ordered list of elements plus routing options. It is
// consumed by Build and owned by the resulting function.
type Request struct {
	Elements []Element
	Flags    Flags

	// SiblingHandle names a function whose multitap this request follows.
	// Zero means none.
	SiblingHandle int

	// DisplayID is the target display for FlagBlendToOther.
	DisplayID int

	// BottomID is the MLC bottom instance for FlagBlendToBottom.
	BottomID int
}

// Policy returns the builder policy the request asks for. A sibling always
// selects multitap; blend flags select blending over multi_path.
func (r *Request) Policy() Policy {
	switch {
	case r.SiblingHandle != 0:
		return PolicyMultitap
	case r.Flags&(FlagBlendToOther|FlagBlendToBottom) != 0:
		return PolicyBlending
	case r.Flags&FlagMultiPath != 0:
		return PolicyMultitap
	default:
		return PolicyDefault
	}
}

// Validate checks the request before any node is claimed.
func (r *Request) Validate() error {
	if len(r.Elements) == 0 {
		return fmt.Errorf("%w: empty request", nxs.ErrInvalidArgument)
	}
	if r.Flags&FlagBlendToOther != 0 && r.Flags&FlagBlendToBottom != 0 {
		return fmt.Errorf("%w: blend_to_other and blend_to_bottom are exclusive", nxs.ErrInvalidArgument)
	}
	if r.SiblingHandle < 0 {
		return fmt.Errorf("%w: sibling handle %d", nxs.ErrInvalidArgument, r.SiblingHandle)
	}
	if r.Flags&FlagBlendToBottom != 0 {
		if err := nxs.KindMLCBottom.CheckIndex(r.BottomID); err != nil || r.BottomID == nxs.AnyInstance {
			return fmt.Errorf("%w: bottom id %d", nxs.ErrInvalidArgument, r.BottomID)
		}
	}

	for i, e := range r.Elements {
		if !e.Kind.IsValid() {
			return fmt.Errorf("%w: element %d: unknown kind %d", nxs.ErrInvalidArgument, i, e.Kind)
		}
		if err := e.Kind.CheckIndex(e.Index); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		if !e.MultitapFollow {
			continue
		}
		if !e.Kind.CanMultitap() {
			return fmt.Errorf("%w: element %d: %s cannot be followed", nxs.ErrInvalidArgument, i, e.Kind)
		}
		if e.Index == nxs.AnyInstance {
			return fmt.Errorf("%w: element %d: follow needs a concrete index", nxs.ErrInvalidArgument, i)
		}
		if r.Flags&FlagMultiPath == 0 && r.SiblingHandle == 0 {
			return fmt.Errorf("%w: element %d: follow without multi_path or sibling", nxs.ErrInvalidArgument, i)
		}
		if r.SiblingHandle == 0 && !r.claimedBefore(i) {
			return fmt.Errorf("%w: element %d: %s followed before being claimed", nxs.ErrInvalidArgument, i, nxs.DeviceName(e.Kind, e.Index))
		}
	}
	return nil
}

func (r *Request) claimedBefore(pos int) bool {
	e := r.Elements[pos]
	for _, prev := range r.Elements[:pos] {
		if prev.Kind == e.Kind && prev.Index == e.Index && !prev.MultitapFollow {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r *Request) Clone() Request {
	c := *r
	c.Elements = append([]Element(nil), r.Elements...)
	return c
}

// WithRequester returns a copy with every element's requester set.
func (r *Request) WithRequester(req nxs.Requester) Request {
	c := r.Clone()
	for i := range c.Elements {
		c.Elements[i].Requester = req
	}
	return c
}

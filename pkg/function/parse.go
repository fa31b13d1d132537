package function

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// ParseElement parses "kind:index[:follow]". The index may be "any".
// The requester is left at its zero value.
func ParseElement(s string) (Element, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Element{}, fmt.Errorf("%w: element %q: want kind:index[:follow]", nxs.ErrInvalidArgument, s)
	}

	kind, err := nxs.ParseKind(parts[0])
	if err != nil {
		return Element{}, err
	}

	e := Element{Kind: kind}
	if parts[1] == "any" {
		e.Index = nxs.AnyInstance
	} else {
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			return Element{}, fmt.Errorf("%w: element %q: bad index", nxs.ErrInvalidArgument, s)
		}
		e.Index = idx
	}
	if err := kind.CheckIndex(e.Index); err != nil {
		return Element{}, err
	}

	if len(parts) == 3 {
		if parts[2] != "follow" {
			return Element{}, fmt.Errorf("%w: element %q: unknown modifier %q", nxs.ErrInvalidArgument, s, parts[2])
		}
		e.MultitapFollow = true
	}
	return e, nil
}

// ParseElements parses a comma-separated element list.
func ParseElements(s string) ([]Element, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty element list", nxs.ErrInvalidArgument)
	}
	var out []Element
	for _, part := range strings.Split(s, ",") {
		e, err := ParseElement(part)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ParseFlags parses flag names joined by "|" or ",". "none" and the empty
// string give no flags.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.TrimSpace(name) {
		case "blend_to_other":
			f |= FlagBlendToOther
		case "blend_to_bottom":
			f |= FlagBlendToBottom
		case "multi_path":
			f |= FlagMultiPath
		case "none", "":
		default:
			return 0, fmt.Errorf("%w: unknown flag %q", nxs.ErrInvalidArgument, name)
		}
	}
	return f, nil
}

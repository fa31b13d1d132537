package resource

import (
	"fmt"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// QueryKind selects what Query reports per node.
type QueryKind uint8

const (
	// QueryDevInfo reports device names, versions and input ports.
	QueryDevInfo QueryKind = 1
	// QueryState reports claim, session and routing state.
	QueryState QueryKind = 2
)

// String returns the query kind name.
func (k QueryKind) String() string {
	switch k {
	case QueryDevInfo:
		return "devinfo"
	case QueryState:
		return "state"
	default:
		return fmt.Sprintf("query(%d)", uint8(k))
	}
}

// ParseQueryKind looks up a query kind by name.
func ParseQueryKind(name string) (QueryKind, error) {
	switch name {
	case "devinfo":
		return QueryDevInfo, nil
	case "state":
		return QueryState, nil
	}
	return 0, fmt.Errorf("%w: unknown query %q", nxs.ErrInvalidArgument, name)
}

// Query reports one entry per node of a function.
func (m *Manager) Query(handle int, kind QueryKind) ([]string, error) {
	if kind != QueryDevInfo && kind != QueryState {
		return nil, fmt.Errorf("%w: query kind %d", nxs.ErrInvalidArgument, kind)
	}
	f, err := m.Function(handle)
	if err != nil {
		return nil, err
	}

	nodes := f.Nodes()
	out := make([]string, 0, len(nodes))
	for _, dev := range nodes {
		switch kind {
		case QueryDevInfo:
			out = append(out, fmt.Sprintf("%s version=%#x input_tid=%#x", dev.Name(), dev.Version(), dev.InputTID()))
		case QueryState:
			out = append(out, dev.Snapshot().String())
		}
	}
	return out, nil
}

package node

import "github.com/nxs-stream/nxs-go/pkg/nxs"

// Driver is the per-block contract a hardware driver implements.
type Driver interface {
	// Open prepares the block for use. Called on the first session only.
	Open() error

	// Close releases the block. Called when the last session closes.
	Close() error

	// Start begins processing.
	Start() error

	// Stop halts processing.
	Stop() error

	// SetTID programs the output routing ids. tid2 is only meaningful for
	// multitap blocks.
	SetTID(tid1, tid2 uint32) error

	// Services returns the controls the block implements.
	Services() []Service
}

// Service binds one control type to its handlers. A nil handler makes that
// direction a no-op.
type Service struct {
	Type nxs.ControlType
	Get  func(ctrl *nxs.Control) error
	Set  func(ctrl *nxs.Control) error
}

// serviceTable maps control types to services.
type serviceTable [nxs.ControlStatus + 1]*Service

func newServiceTable(services []Service) serviceTable {
	var t serviceTable
	for i := range services {
		s := services[i]
		if int(s.Type) < len(t) && s.Type != nxs.ControlNone {
			t[s.Type] = &s
		}
	}
	return t
}

func (t *serviceTable) lookup(ct nxs.ControlType) *Service {
	if int(ct) >= len(t) {
		return nil
	}
	return t[ct]
}

func (t *serviceTable) types() []nxs.ControlType {
	var out []nxs.ControlType
	for i, s := range t {
		if s != nil {
			out = append(out, nxs.ControlType(i))
		}
	}
	return out
}

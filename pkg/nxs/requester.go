package nxs

// Requester classifies who asked for a function.
type Requester uint8

const (
	// RequesterKernel marks functions declared by the board description.
	RequesterKernel Requester = iota
	// RequesterUser marks functions requested over the control plane.
	RequesterUser
)

// String returns the requester name.
func (r Requester) String() string {
	switch r {
	case RequesterKernel:
		return "kernel"
	case RequesterUser:
		return "user"
	default:
		return "unknown"
	}
}

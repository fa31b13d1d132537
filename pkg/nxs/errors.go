package nxs

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every NXS package.
var (
	// ErrInvalidArgument indicates a malformed request: unknown kind, empty
	// request, bad instance index or an operation invalid in the current state.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceBusy indicates a node's claim ceiling has been reached.
	ErrResourceBusy = errors.New("resource busy")

	// ErrNotFound indicates an unknown handle, node or display.
	ErrNotFound = errors.New("not found")

	// ErrDevice indicates a node-level driver failure.
	ErrDevice = errors.New("device error")

	// ErrAlreadyInState indicates a transition into the current state.
	// Lifecycle operations treat it as success.
	ErrAlreadyInState = errors.New("already in state")

	// ErrNotReady indicates a function whose nodes are not all open.
	ErrNotReady = errors.New("not ready")
)

// ErrInvalidInstance indicates an instance index without a dirty-bit mapping.
var ErrInvalidInstance = fmt.Errorf("%w: no dirty mapping for instance", ErrInvalidArgument)

// DeviceError wraps a driver failure with the node and operation that failed.
type DeviceError struct {
	Kind  Kind
	Index int
	Op    string
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", DeviceName(e.Kind, e.Index), e.Op, e.Err)
}

// Unwrap exposes both ErrDevice and the driver error to errors.Is.
func (e *DeviceError) Unwrap() []error {
	return []error{ErrDevice, e.Err}
}

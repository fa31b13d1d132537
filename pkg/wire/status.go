package wire

import (
	"errors"
	"fmt"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusInvalidArgument indicates a malformed request.
	StatusInvalidArgument Status = 1

	// StatusBusy indicates a node's claim ceiling was reached.
	StatusBusy Status = 2

	// StatusNotFound indicates an unknown handle, node or display.
	StatusNotFound Status = 3

	// StatusDeviceError indicates a driver failure.
	StatusDeviceError Status = 4

	// StatusNotReady indicates a function whose nodes are not all open.
	StatusNotReady Status = 5

	// StatusNotAuthorized indicates the session does not own the function.
	StatusNotAuthorized Status = 6

	// StatusUnsupported indicates an unknown operation.
	StatusUnsupported Status = 7

	// StatusInternal indicates any other failure.
	StatusInternal Status = 8
)

// ErrNotAuthorized is returned for operations on functions the session
// does not own.
var ErrNotAuthorized = errors.New("not authorized")

// ErrUnsupported is returned for unknown operations.
var ErrUnsupported = errors.New("unsupported operation")

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusBusy:
		return "BUSY"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDeviceError:
		return "DEVICE_ERROR"
	case StatusNotReady:
		return "NOT_READY"
	case StatusNotAuthorized:
		return "NOT_AUTHORIZED"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// StatusFromError maps an error to the status reported to clients.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, nxs.ErrResourceBusy):
		return StatusBusy
	case errors.Is(err, nxs.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, nxs.ErrDevice):
		return StatusDeviceError
	case errors.Is(err, nxs.ErrNotReady):
		return StatusNotReady
	case errors.Is(err, nxs.ErrInvalidArgument):
		return StatusInvalidArgument
	case errors.Is(err, ErrNotAuthorized):
		return StatusNotAuthorized
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	default:
		return StatusInternal
	}
}

// Err converts a status back to the matching sentinel, wrapping msg.
func (s Status) Err(msg string) error {
	var base error
	switch s {
	case StatusSuccess:
		return nil
	case StatusInvalidArgument:
		base = nxs.ErrInvalidArgument
	case StatusBusy:
		base = nxs.ErrResourceBusy
	case StatusNotFound:
		base = nxs.ErrNotFound
	case StatusDeviceError:
		base = nxs.ErrDevice
	case StatusNotReady:
		base = nxs.ErrNotReady
	case StatusNotAuthorized:
		base = ErrNotAuthorized
	case StatusUnsupported:
		base = ErrUnsupported
	default:
		base = errors.New("internal error")
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}

package log

import (
	"time"

	"github.com/nxs-stream/nxs-go/pkg/wire"
)

// Event is one entry of the NXS trace.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the control-plane connection (UUID), empty for
	// events not caused by a client.
	SessionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow for transport and wire events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Node is the device name (e.g. "dmar.0") for node events.
	Node string `cbor:"6,keyasint,omitempty"`

	// Handle is the function handle for graph events.
	Handle int `cbor:"7,keyasint,omitempty"`

	// RemoteAddr is the peer address or unix credentials.
	RemoteAddr string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session/function state
	Claim       *ClaimEvent       `cbor:"13,keyasint,omitempty"` // Node claims
	IRQ         *IRQEvent         `cbor:"14,keyasint,omitempty"` // Interrupt dispatch
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is the framing layer.
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerService is the control service.
	LayerService Layer = 2
	// LayerGraph is the function graph.
	LayerGraph Layer = 3
	// LayerNode is a single node.
	LayerNode Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	case LayerGraph:
		return "GRAPH"
	case LayerNode:
		return "NODE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a frame or control-plane message.
	CategoryMessage Category = 0
	// CategoryClaim indicates a node claim or release.
	CategoryClaim Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryIRQ indicates interrupt dispatch.
	CategoryIRQ Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryClaim:
		return "CLAIM"
	case CategoryState:
		return "STATE"
	case CategoryIRQ:
		return "IRQ"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded control-plane message.
type MessageEvent struct {
	// Type distinguishes request/response/notification.
	Type MessageType `cbor:"1,keyasint"`

	// MessageID correlates request/response pairs (0 for notifications).
	MessageID uint32 `cbor:"2,keyasint"`

	// For requests: the operation being performed.
	Operation *wire.Operation `cbor:"3,keyasint,omitempty"`

	// For responses: the status code.
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// For notifications: the subscription ID.
	SubscriptionID *uint32 `cbor:"5,keyasint,omitempty"`

	// Raw payload bytes.
	Payload []byte `cbor:"6,keyasint,omitempty"`

	// ProcessingTime from request receipt to response send (response only).
	ProcessingTime *time.Duration `cbor:"7,keyasint,omitempty"`
}

// MessageType distinguishes request/response/notification.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
	// MessageTypeNotification indicates a notification message.
	MessageTypeNotification MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures session and function lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a control-plane session change.
	StateEntitySession StateEntity = 0
	// StateEntityFunction indicates a function graph change.
	StateEntityFunction StateEntity = 1
	// StateEntityDisplay indicates a display membership change.
	StateEntityDisplay StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityFunction:
		return "FUNCTION"
	case StateEntityDisplay:
		return "DISPLAY"
	default:
		return "UNKNOWN"
	}
}

// ClaimEvent captures a node claim or release.
type ClaimEvent struct {
	// Action taken.
	Action ClaimAction `cbor:"1,keyasint"`

	// Requester class, "kernel" or "user".
	Requester string `cbor:"2,keyasint"`

	// Follow marks a multitap follow claim.
	Follow bool `cbor:"3,keyasint,omitempty"`

	// Refcount after the action.
	Refcount int `cbor:"4,keyasint"`

	// MaxRefcount of the node.
	MaxRefcount int `cbor:"5,keyasint"`
}

// ClaimAction distinguishes claims from releases.
type ClaimAction uint8

const (
	// ClaimActionGet records a successful claim.
	ClaimActionGet ClaimAction = 0
	// ClaimActionPut records a release.
	ClaimActionPut ClaimAction = 1
	// ClaimActionReject records a claim refused at the ceiling.
	ClaimActionReject ClaimAction = 2
)

// String returns the claim action name.
func (a ClaimAction) String() string {
	switch a {
	case ClaimActionGet:
		return "GET"
	case ClaimActionPut:
		return "PUT"
	case ClaimActionReject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// IRQEvent captures a frame tick delivered to a function.
type IRQEvent struct {
	// Frame is the function's frame counter after the tick.
	Frame uint64 `cbor:"1,keyasint"`

	// Committed is the number of nodes whose pending state was committed.
	Committed int `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the wire status of the error (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

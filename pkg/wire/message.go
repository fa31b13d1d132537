package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// NotificationMessageID is reserved for notifications.
const NotificationMessageID uint32 = 0

// Request is a control-plane call from a client.
//
// CBOR encoding:
//
//	{
//	  1: messageId,  // uint32, never 0
//	  2: operation,  // uint8
//	  3: payload     // embedded CBOR, operation-specific
//	}
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Operation Operation       `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// NewRequest builds a request, encoding payload when non-nil.
func NewRequest(id uint32, op Operation, payload any) (*Request, error) {
	req := &Request{MessageID: id, Operation: op}
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		req.Payload = data
	}
	return req, nil
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == NotificationMessageID {
		return fmt.Errorf("messageId 0 is reserved for notifications")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	return nil
}

// DecodePayload decodes the payload into v. A missing payload fails with
// nxs.ErrInvalidArgument.
func (r *Request) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", nxs.ErrInvalidArgument, r.Operation)
	}
	if err := Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", nxs.ErrInvalidArgument, r.Operation, err)
	}
	return nil
}

// Response answers a request.
//
// CBOR encoding:
//
//	{
//	  1: messageId,  // uint32, matches request
//	  2: status,     // uint8
//	  3: payload     // embedded CBOR; ErrorPayload on failure
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// NewResponse builds a successful response carrying payload.
func NewResponse(id uint32, payload any) (*Response, error) {
	resp := &Response{MessageID: id, Status: StatusSuccess}
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode response payload: %w", err)
		}
		resp.Payload = data
	}
	return resp, nil
}

// NewErrorResponse builds a failed response for err.
func NewErrorResponse(id uint32, err error) *Response {
	resp := &Response{MessageID: id, Status: StatusFromError(err)}
	if data, merr := Marshal(ErrorPayload{Message: err.Error()}); merr == nil {
		resp.Payload = data
	}
	return resp
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// Err returns the error a failed response carries, or nil.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	var ep ErrorPayload
	if len(r.Payload) > 0 {
		_ = Unmarshal(r.Payload, &ep)
	}
	return r.Status.Err(ep.Message)
}

// DecodePayload decodes a successful response's payload into v.
func (r *Response) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("response %d has no payload", r.MessageID)
	}
	return Unmarshal(r.Payload, v)
}

// Notification reports one frame tick of a subscribed function.
//
// CBOR encoding:
//
//	{
//	  1: 0,               // messageId 0 = notification
//	  2: subscriptionId,  // uint32
//	  3: handle,          // function handle
//	  4: frame            // uint64 frame counter
//	}
type Notification struct {
	SubscriptionID uint32 `cbor:"2,keyasint"`
	Handle         int    `cbor:"3,keyasint"`
	Frame          uint64 `cbor:"4,keyasint"`
}

// ElementPayload names one pipeline stage of a RequestFunction.
type ElementPayload struct {
	Kind   string `cbor:"1,keyasint"`
	Index  int    `cbor:"2,keyasint"`
	Follow bool   `cbor:"3,keyasint,omitempty"`
}

// RequestFunctionPayload is the payload of OpRequestFunction.
type RequestFunctionPayload struct {
	Name          string           `cbor:"1,keyasint"`
	Elements      []ElementPayload `cbor:"2,keyasint"`
	Flags         uint32           `cbor:"3,keyasint,omitempty"`
	SiblingHandle int              `cbor:"4,keyasint,omitempty"`
	DisplayID     int              `cbor:"5,keyasint,omitempty"`
	BottomID      int              `cbor:"6,keyasint,omitempty"`
	NoBuilder     bool             `cbor:"7,keyasint,omitempty"`
}

// HandlePayload addresses one function. Used by RemoveFunction, Connect,
// Start, Stop, Disconnect, Subscribe and as the RequestFunction response.
type HandlePayload struct {
	Handle int `cbor:"1,keyasint"`
}

// QueryPayload is the payload of OpQuery.
type QueryPayload struct {
	Handle int   `cbor:"1,keyasint"`
	Kind   uint8 `cbor:"2,keyasint"`
}

// QueryResponsePayload lists one entry per node of the function.
type QueryResponsePayload struct {
	Entries []string `cbor:"1,keyasint"`
}

// ControlPayload addresses a control on one element of a function. It is
// also the GetControl response.
type ControlPayload struct {
	Handle   int         `cbor:"1,keyasint"`
	Position int         `cbor:"2,keyasint"`
	Control  nxs.Control `cbor:"3,keyasint"`
}

// FunctionInfo describes a registered function.
type FunctionInfo struct {
	Handle    int      `cbor:"1,keyasint"`
	Name      string   `cbor:"2,keyasint"`
	State     string   `cbor:"3,keyasint"`
	Requester string   `cbor:"4,keyasint"`
	Nodes     []string `cbor:"5,keyasint"`
	Display   int      `cbor:"6,keyasint,omitempty"`
	Owned     bool     `cbor:"7,keyasint,omitempty"`
}

// ListFunctionsResponsePayload is the OpListFunctions response.
type ListFunctionsResponsePayload struct {
	Functions []FunctionInfo `cbor:"1,keyasint"`
}

// NodeInfo describes a registered node.
type NodeInfo struct {
	Name         string   `cbor:"1,keyasint"`
	Refcount     int      `cbor:"2,keyasint"`
	MaxRefcount  int      `cbor:"3,keyasint"`
	Followers    int      `cbor:"4,keyasint,omitempty"`
	OpenCount    int      `cbor:"5,keyasint"`
	ConnectCount int      `cbor:"6,keyasint"`
	Started      bool     `cbor:"7,keyasint,omitempty"`
	TID1         uint32   `cbor:"8,keyasint,omitempty"`
	TID2         uint32   `cbor:"9,keyasint,omitempty"`
	InputTID     uint32   `cbor:"10,keyasint"`
	IRQ          string   `cbor:"11,keyasint,omitempty"`
	IRQCount     uint64   `cbor:"12,keyasint,omitempty"`
	Controls     []string `cbor:"13,keyasint,omitempty"`
}

// ListNodesResponsePayload is the OpListNodes response.
type ListNodesResponsePayload struct {
	Nodes []NodeInfo `cbor:"1,keyasint"`
}

// SubscribeResponsePayload carries the id of a new frame subscription.
type SubscribeResponsePayload struct {
	SubscriptionID uint32 `cbor:"1,keyasint"`
}

// UnsubscribePayload cancels a frame subscription.
type UnsubscribePayload struct {
	SubscriptionID uint32 `cbor:"1,keyasint"`
}

// PingResponsePayload identifies the daemon.
type PingResponsePayload struct {
	Version  string `cbor:"1,keyasint"`
	Board    string `cbor:"2,keyasint,omitempty"`
	Protocol string `cbor:"3,keyasint,omitempty"`
}

// ErrorPayload carries the human-readable error of a failed response.
type ErrorPayload struct {
	Message string `cbor:"1,keyasint,omitempty"`
}

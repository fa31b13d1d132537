package wire

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

func TestRequestFunctionRoundTrip(t *testing.T) {
	payload := RequestFunctionPayload{
		Name: "capture",
		Elements: []ElementPayload{
			{Kind: "dmar", Index: 0},
			{Kind: "multitap", Index: 1},
			{Kind: "multitap", Index: 1, Follow: true},
		},
		Flags:     4,
		DisplayID: 2,
	}
	req, err := NewRequest(7, OpRequestFunction, payload)
	require.NoError(t, err)

	data, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), decoded.MessageID)
	assert.Equal(t, OpRequestFunction, decoded.Operation)

	var got RequestFunctionPayload
	require.NoError(t, decoded.DecodePayload(&got))
	assert.Equal(t, payload, got)
}

func TestRequestValidation(t *testing.T) {
	_, err := EncodeRequest(&Request{MessageID: 0, Operation: OpPing})
	assert.Error(t, err)

	_, err = EncodeRequest(&Request{MessageID: 1, Operation: Operation(99)})
	assert.Error(t, err)

	req := &Request{MessageID: 1, Operation: OpStart}
	var hp HandlePayload
	assert.ErrorIs(t, req.DecodePayload(&hp), nxs.ErrInvalidArgument)
}

func TestControlPayloadRoundTrip(t *testing.T) {
	in := ControlPayload{
		Handle:   3,
		Position: 1,
		Control: nxs.Control{
			Type: nxs.ControlCrop,
			Rect: &nxs.Rect{Left: 2, Top: 4, Width: 320, Height: 240},
		},
	}
	resp, err := NewResponse(9, in)
	require.NoError(t, err)

	data, err := EncodeResponse(resp)
	require.NoError(t, err)
	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	require.True(t, decoded.IsSuccess())

	var out ControlPayload
	require.NoError(t, decoded.DecodePayload(&out))
	assert.Equal(t, in, out)
}

func TestErrorResponseCarriesSentinel(t *testing.T) {
	cause := fmt.Errorf("get node: %w", nxs.ErrResourceBusy)
	data, err := EncodeResponse(NewErrorResponse(4, cause))
	require.NoError(t, err)

	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, decoded.Status)

	rerr := decoded.Err()
	assert.ErrorIs(t, rerr, nxs.ErrResourceBusy)
	assert.Contains(t, rerr.Error(), "get node")
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{nxs.ErrInvalidArgument, StatusInvalidArgument},
		{nxs.ErrInvalidInstance, StatusInvalidArgument},
		{nxs.ErrResourceBusy, StatusBusy},
		{nxs.ErrNotFound, StatusNotFound},
		{&nxs.DeviceError{Kind: nxs.KindDMAR, Op: "open", Err: errors.New("x")}, StatusDeviceError},
		{nxs.ErrNotReady, StatusNotReady},
		{ErrNotAuthorized, StatusNotAuthorized},
		{ErrUnsupported, StatusUnsupported},
		{errors.New("other"), StatusInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromError(tt.err))
		})
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	data, err := EncodeNotification(&Notification{SubscriptionID: 5, Handle: 2, Frame: 1234})
	require.NoError(t, err)

	isNotif, err := IsNotification(data)
	require.NoError(t, err)
	assert.True(t, isNotif)

	n, err := DecodeNotification(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), n.SubscriptionID)
	assert.Equal(t, 2, n.Handle)
	assert.Equal(t, uint64(1234), n.Frame)
}

func TestResponseIsNotNotification(t *testing.T) {
	data, err := EncodeResponse(&Response{MessageID: 3, Status: StatusSuccess})
	require.NoError(t, err)

	isNotif, err := IsNotification(data)
	require.NoError(t, err)
	assert.False(t, isNotif)

	_, err = DecodeNotification(data)
	assert.Error(t, err)
}

func TestUnknownFieldsIgnored(t *testing.T) {
	extended := struct {
		MessageID uint32 `cbor:"1,keyasint"`
		Status    Status `cbor:"2,keyasint"`
		Future    string `cbor:"99,keyasint"`
	}{MessageID: 1, Status: StatusNotFound, Future: "x"}

	data, err := Marshal(extended)
	require.NoError(t, err)

	resp, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, resp.Status)
	assert.ErrorIs(t, resp.Err(), nxs.ErrNotFound)
}

func TestOperationNames(t *testing.T) {
	for op := OpPing; op <= OpUnsubscribe; op++ {
		assert.NotEqual(t, "Unknown", op.String(), "operation %d", op)
	}
	assert.Equal(t, "Unknown", Operation(0).String())
	assert.False(t, Operation(0).IsValid())
}

func TestEqual(t *testing.T) {
	a := HandlePayload{Handle: 1}
	b := HandlePayload{Handle: 1}
	c := HandlePayload{Handle: 2}
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}

package nxs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"dmar", KindDMAR},
		{"DMAW", KindDMAW},
		{" cropper ", KindCropper},
		{"scaler", KindScaler4096},
		{"scaler_5376", KindScaler5376},
		{"mlc_blender", KindMLCBlender},
		{"mlc_blending", KindMLCBlender},
		{"hdmi", KindHDMI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseKind("framebuffer")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKindRoundTripNames(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err, "kind %d", k)
		assert.Equal(t, k, got)
	}
}

func TestCheckIndex(t *testing.T) {
	assert.NoError(t, KindDMAR.CheckIndex(0))
	assert.NoError(t, KindDMAR.CheckIndex(9))
	assert.NoError(t, KindDMAR.CheckIndex(AnyInstance))
	assert.ErrorIs(t, KindDMAR.CheckIndex(10), ErrInvalidArgument)
	assert.ErrorIs(t, KindDMAR.CheckIndex(-2), ErrInvalidArgument)
	assert.ErrorIs(t, KindNone.CheckIndex(0), ErrInvalidArgument)
	assert.ErrorIs(t, Kind(200).CheckIndex(0), ErrInvalidArgument)
}

func TestInputTIDUnique(t *testing.T) {
	seen := make(map[uint32]string)
	for _, k := range Kinds() {
		for i := 0; i < k.MaxInstances(); i++ {
			tid := InputTID(k, i)
			require.NotEqual(t, TIDDefault, tid)
			require.NotEqual(t, TIDDisconnected, tid)
			if prev, ok := seen[tid]; ok {
				t.Fatalf("tid %d shared by %s and %s", tid, prev, DeviceName(k, i))
			}
			seen[tid] = DeviceName(k, i)
		}
	}
	assert.Equal(t, TIDDefault, InputTID(KindDMAR, 99))
}

func TestDeviceErrorUnwrap(t *testing.T) {
	cause := errors.New("clock not enabled")
	err := error(&DeviceError{Kind: KindScaler4096, Index: 0, Op: "start", Err: cause})

	assert.ErrorIs(t, err, ErrDevice)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "scaler_4096.0: start: clock not enabled", err.Error())
	assert.ErrorIs(t, ErrInvalidInstance, ErrInvalidArgument)
}

func TestControlValidate(t *testing.T) {
	assert.NoError(t, (&Control{Type: ControlFormat, Format: &Format{Width: 1920, Height: 1080}}).Validate())
	assert.ErrorIs(t, (&Control{Type: ControlCrop}).Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, (&Control{Type: ControlTPF, Fraction: &Fraction{Numerator: 1}}).Validate(), ErrInvalidArgument)
	assert.NoError(t, (&Control{Type: ControlStatus}).Validate())

	ct, err := ParseControlType("syncinfo")
	require.NoError(t, err)
	assert.Equal(t, ControlSyncInfo, ct)
	_, err = ParseControlType("none")
	assert.Error(t, err)
}

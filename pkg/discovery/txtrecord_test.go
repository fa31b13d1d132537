package discovery

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTXT(t *testing.T) {
	info := &Info{Board: "nxp3220-evb", Version: "1.4.0", SocketPath: "/run/nxs/nxsd.sock"}

	strs := TXTRecordsToStrings(EncodeTXT(info))
	assert.Equal(t, []string{"board=nxp3220-evb", "path=/run/nxs/nxsd.sock", "ver=1.4.0"}, strs)

	var svc Service
	require.NoError(t, DecodeTXT(StringsToTXTRecords(strs), &svc))
	assert.Equal(t, "nxp3220-evb", svc.Board)
	assert.Equal(t, "1.4.0", svc.Version)
	assert.Equal(t, "/run/nxs/nxsd.sock", svc.SocketPath)
}

func TestEncodeTXTOmitsEmptyPath(t *testing.T) {
	txt := EncodeTXT(&Info{Board: "b", Version: "v"})
	_, ok := txt[TXTKeyPath]
	assert.False(t, ok)
}

func TestDecodeTXTMissing(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		key  string
	}{
		{"no board", TXTRecordMap{TXTKeyVersion: "1"}, TXTKeyBoard},
		{"no version", TXTRecordMap{TXTKeyBoard: "b"}, TXTKeyVersion},
		{"empty", TXTRecordMap{}, TXTKeyBoard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var svc Service
			err := DecodeTXT(tt.txt, &svc)
			if !errors.Is(err, ErrMissingRequired) {
				t.Fatalf("DecodeTXT() error = %v, want ErrMissingRequired", err)
			}
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "flag", "b=x=y", "", "=orphan"})
	assert.Equal(t, TXTRecordMap{"a": "1", "flag": "", "b": "x=y"}, txt)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("nxsd-board"))
	assert.ErrorIs(t, ValidateInstanceName(""), ErrInvalidInstanceName)
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("x", MaxInstanceNameLen+1)), ErrInvalidInstanceName)
}

func TestDefaultInstance(t *testing.T) {
	name := DefaultInstance()
	assert.True(t, strings.HasPrefix(name, InstancePrefix))
	assert.NoError(t, ValidateInstanceName(name))
	assert.NotContains(t, name, ".")
}

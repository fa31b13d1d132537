package function

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

func TestParseElements(t *testing.T) {
	got, err := ParseElements("dmar:0, cropper:1,multitap:0:follow,dmaw:any")
	require.NoError(t, err)
	assert.Equal(t, []Element{
		{Kind: nxs.KindDMAR, Index: 0},
		{Kind: nxs.KindCropper, Index: 1},
		{Kind: nxs.KindMultitap, Index: 0, MultitapFollow: true},
		{Kind: nxs.KindDMAW, Index: nxs.AnyInstance},
	}, got)

	for _, e := range got {
		back, err := ParseElement(e.String())
		require.NoError(t, err)
		assert.Equal(t, e, back)
	}
}

func TestParseElementErrors(t *testing.T) {
	tests := []string{
		"",
		"dmar",
		"dmar:x",
		"dmar:10",
		"warp:0",
		"multitap:0:lead",
		"dmar:0:follow:again",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseElements(in)
			assert.ErrorIs(t, err, nxs.ErrInvalidArgument)
		})
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags("multi_path|blend_to_bottom")
	require.NoError(t, err)
	assert.Equal(t, FlagMultiPath|FlagBlendToBottom, f)

	f, err = ParseFlags("none")
	require.NoError(t, err)
	assert.Zero(t, f)

	f, err = ParseFlags(FlagBlendToOther.String())
	require.NoError(t, err)
	assert.Equal(t, FlagBlendToOther, f)

	_, err = ParseFlags("blend_everywhere")
	assert.ErrorIs(t, err, nxs.ErrInvalidArgument)
}

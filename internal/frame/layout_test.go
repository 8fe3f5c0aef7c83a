package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout7p1MaskMatchesCanonicalSideSurrounds(t *testing.T) {
	// screamrouter's CHANNEL_LAYOUT_TABLE entry for "7.1" is (0x3F, 0x06):
	// low byte FL|FR|FC|LFE|BL|BR, high byte bits 9/10 (SL|SR) -- the same
	// side-surround bits "5.1(side)" sets, not front-left/right-of-center.
	mask, ok := MaskForLayout(Layout7p1)
	require.True(t, ok)
	assert.Equal(t, byte(0x3F), byte(mask&0xFF))
	assert.Equal(t, byte(0x06), byte(mask>>8))

	layout, channels, known := mask.Layout()
	assert.True(t, known)
	assert.Equal(t, Layout7p1, layout)
	assert.Equal(t, 8, channels)
}

func TestLayout5p1SideAnd7p1ShareHighByteSurroundBits(t *testing.T) {
	side, ok := MaskForLayout(Layout5p1Side)
	require.True(t, ok)
	full, ok := MaskForLayout(Layout7p1)
	require.True(t, ok)

	assert.Equal(t, byte(side>>8), byte(full>>8), "both layouts use SL|SR in the high byte")
}

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFrameBytes(t *testing.T) {
	f := Format{SampleRate: Rate48000, BitDepth: Depth16, Channels: 2, Layout: LayoutStereo}
	assert.Equal(t, SamplesPerFrame*2*2, f.FrameBytes())
}

func TestFormatFrameBytesZeroChannelsTreatedAsMono(t *testing.T) {
	f := Format{SampleRate: Rate48000, BitDepth: Depth16}
	assert.Equal(t, SamplesPerFrame*1*2, f.FrameBytes())
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: Rate48000, BitDepth: Depth16, Channels: 2}
	got := f.Duration()
	assert.InDelta(t, 24*1000*1000, got.Nanoseconds(), float64(1000)) // 1152/48000s ~= 24ms
}

func TestChunkFormatChunkBytes(t *testing.T) {
	c := ChunkFormat{Format: Format{SampleRate: Rate48000, BitDepth: Depth24, Channels: 2}, ChunkSamples: 1152}
	assert.Equal(t, 1152*2*3, c.ChunkBytes())
}

func TestBitDepthValid(t *testing.T) {
	assert.True(t, Depth16.Valid())
	assert.True(t, Depth24.Valid())
	assert.True(t, Depth32.Valid())
	assert.False(t, BitDepth(20).Valid())
}

func TestSampleRateValid(t *testing.T) {
	assert.True(t, Rate44100.Valid())
	assert.True(t, Rate192000.Valid())
	assert.False(t, SampleRate(22050).Valid())
}

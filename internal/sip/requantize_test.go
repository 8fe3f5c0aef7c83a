package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/patchbay/engine/internal/frame"
)

func TestRequantizerKeepsSamplesWithinUnitRange(t *testing.T) {
	q := NewRequantizer(frame.Depth16, 1, 0.5)
	samples := []float64{0.999999, -0.999999, 0, 0.5, -0.5}
	q.Process(samples)
	for _, s := range samples {
		assert.LessOrEqual(t, s, 1.0)
		assert.GreaterOrEqual(t, s, -1.0)
	}
}

func TestRequantizerAccumulatesNoiseShapingFeedback(t *testing.T) {
	q := NewRequantizer(frame.Depth16, 1, 1.0)
	samples := []float64{0.25, 0.25, 0.25, 0.25}
	q.Process(samples)
	assert.Len(t, q.errFeedback, 1)
}

func TestPackUnpackBytesRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		depth := rapid.SampledFrom([]frame.BitDepth{frame.Depth16, frame.Depth24, frame.Depth32}).Draw(rt, "depth")
		n := rapid.IntRange(1, 16).Draw(rt, "n")
		samples := make([]float64, n)
		for i := range samples {
			// Keep values comfortably inside integer range to avoid rounding
			// at the extreme edges where the two's-complement max differs
			// from the min by one unit.
			samples[i] = rapid.Float64Range(-0.9, 0.9).Draw(rt, "s")
		}

		packed := PackBytes(nil, samples, depth)
		unpacked := UnpackFloats(nil, packed, depth)
		require.Len(rt, unpacked, n)
		for i := range samples {
			assert.InDelta(rt, samples[i], unpacked[i], 1e-3)
		}
	})
}

func TestPackBytesLittleEndian16Bit(t *testing.T) {
	out := PackBytes(nil, []float64{1.0}, frame.Depth16)
	require.Len(t, out, 2)
	// Max positive 16-bit scale is 32767; little-endian low byte first.
	assert.Equal(t, byte(0xFF), out[0])
	assert.Equal(t, byte(0x7F), out[1])
}

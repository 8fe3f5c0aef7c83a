package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayLineZeroMillisIsOneFrameRing(t *testing.T) {
	d := NewDelayLine(48000, 2, 0)
	require.Len(t, d.buf, 2) // one frame minimum, per-channel

	first := []float64{0.5, -0.5}
	d.Process(first)
	assert.Equal(t, []float64{0, 0}, first, "first frame through an empty ring reads silence")

	second := []float64{0.25, -0.25}
	d.Process(second)
	assert.Equal(t, []float64{0.5, -0.5}, second, "one frame of delay returns the prior input")
}

func TestDelayLineClampsToMaxDelayMillis(t *testing.T) {
	d := NewDelayLine(48000, 2, MaxDelayMillis*10)
	assert.LessOrEqual(t, len(d.buf), 48000*MaxDelayMillis/1000*2)
}

func TestDelayLineNegativeMillisClampsToZero(t *testing.T) {
	d := NewDelayLine(48000, 2, -100)
	assert.Equal(t, 2, len(d.buf))
}

func TestDelayLineFixedFrameDelayReturnsInputAfterNFrames(t *testing.T) {
	// 1 channel, 2-frame ring (delayMillis chosen so sampleRate*ms/1000 == 2).
	d := NewDelayLine(1000, 1, 2)
	inputs := [][]float64{{1}, {2}, {3}, {4}}
	var outputs []float64
	for _, in := range inputs {
		buf := append([]float64(nil), in...)
		d.Process(buf)
		outputs = append(outputs, buf[0])
	}
	// First two frames read back silence, then the delayed inputs.
	assert.Equal(t, []float64{0, 0, 1, 2}, outputs)
}

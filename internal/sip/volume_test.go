package sip

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeControlRampsTowardTarget(t *testing.T) {
	v := NewVolumeControl(1.0, 0.5)
	v.SetTarget(0.0)

	samples := []float64{1, 1, 1, 1, 1}
	v.Process(samples)

	// Exponential smoothing never jumps straight to target, and the gain
	// monotonically decreases toward it.
	assert.Less(t, samples[0], 1.0)
	assert.Greater(t, samples[0], 0.0)
	for i := 1; i < len(samples); i++ {
		assert.LessOrEqual(t, samples[i], samples[i-1])
	}
}

func TestVolumeControlInvalidSmoothingFallsBackToDefault(t *testing.T) {
	v := NewVolumeControl(1.0, 0)
	assert.Greater(t, v.alpha, 0.0)
	assert.LessOrEqual(t, v.alpha, 1.0)
}

func TestVolumeControlCurrentGainDBOfZeroIsNegativeInfinity(t *testing.T) {
	v := NewVolumeControl(0, 1)
	assert.True(t, math.IsInf(v.CurrentGainDB(), -1))
}

package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDCFilterRemovesConstantOffset(t *testing.T) {
	f := NewDCFilter(48000, 1, 10)
	samples := make([]float64, 6000)
	for i := range samples {
		samples[i] = 0.5 // pure DC
	}
	f.Process(samples)

	// A DC blocker decays a constant input toward zero.
	assert.Less(t, abs64(samples[len(samples)-1]), 0.01)
}

func TestDCFilterPassesACSignalThroughAttenuatedLittle(t *testing.T) {
	f := NewDCFilter(48000, 1, 10)
	samples := []float64{1, -1, 1, -1}
	f.Process(samples)
	// First sample is unaffected (no history yet); later samples stay close
	// to the alternating input since 10Hz cutoff is far below signal content.
	assert.InDelta(t, 1, samples[0], 1e-9)
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestComposeGainsZeroIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var g EQGains
		for i := range g {
			g[i] = rapid.Float64Range(-24, 24).Draw(t, "band")
		}
		var zero EQGains

		assert.Equal(t, g, ComposeGains(zero, g))
		assert.Equal(t, g, ComposeGains(g, zero))
	})
}

func TestComposeGainsIsAdditive(t *testing.T) {
	a := EQGains{}
	b := EQGains{}
	a[0] = 3
	b[0] = -2
	out := ComposeGains(a, b)
	assert.InDelta(t, 1, out[0], 1e-12)
}

func TestEQCenterFrequenciesSpanRange(t *testing.T) {
	assert.InDelta(t, 65.0, EQCenterFrequencies[0], 0.01)
	assert.InDelta(t, 20000.0, EQCenterFrequencies[EQBands-1], 1.0)
	for i := 1; i < EQBands; i++ {
		assert.Greater(t, EQCenterFrequencies[i], EQCenterFrequencies[i-1])
	}
}

func TestEqualizerFlatGainsPassesSignalThroughUnchanged(t *testing.T) {
	eq := NewEqualizer(48000, 1, EQGains{}, false)
	samples := []float64{0.1, -0.2, 0.3, 0.05, -0.1}
	want := append([]float64(nil), samples...)
	eq.Process(samples)
	assert.InDeltaSlice(t, want, samples, 1e-6)
}

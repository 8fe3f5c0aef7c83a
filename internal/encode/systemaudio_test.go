package encode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/patchbay/engine/internal/sip"
)

func TestSystemAudioSinkFillCopiesAndZeroPadsShortChunk(t *testing.T) {
	s := &SystemAudioSink{out: make([]float32, 4)}
	s.fill(sip.Chunk{Samples: []float64{0.5, -0.5}})
	assert.Equal(t, []float32{0.5, -0.5, 0, 0}, s.out)
}

func TestSystemAudioSinkWidenLatencyClampsToMax(t *testing.T) {
	s := &SystemAudioSink{curLatency: 10 * time.Millisecond, latencyMax: 12 * time.Millisecond}
	s.widenLatency()
	assert.Equal(t, 12*time.Millisecond, s.curLatency) // 10+5=15, clamped to 12
}

func TestSystemAudioSinkNarrowLatencyClampsToMin(t *testing.T) {
	s := &SystemAudioSink{curLatency: time.Millisecond, latencyMin: 5 * time.Millisecond}
	s.narrowLatency()
	assert.Equal(t, 5*time.Millisecond, s.curLatency) // 1-1=0, clamped to 5
}

func TestSystemAudioSinkNarrowLatencyStepsDownByOneMillisecond(t *testing.T) {
	s := &SystemAudioSink{curLatency: 20 * time.Millisecond, latencyMin: 5 * time.Millisecond}
	s.narrowLatency()
	assert.Equal(t, 19*time.Millisecond, s.curLatency)
}

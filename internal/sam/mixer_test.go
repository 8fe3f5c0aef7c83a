package sam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sip"
)

func testFormat() frame.Format {
	return frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 1, Layout: frame.LayoutMono}
}

func TestMixerTickOnceSumsLanesWithSaturationClamp(t *testing.T) {
	cfg := config.Default().SAM
	m := NewMixer("sink-1", testFormat(), 4, cfg, SinkParams{GainLinear: 1}, nil)

	l1 := m.AddLane("path-a", cfg)
	l2 := m.AddLane("path-b", cfg)
	l1.Push(sip.Chunk{Format: testFormat(), Samples: []float64{0.8, 0.8, 0.8, 0.8}})
	l2.Push(sip.Chunk{Format: testFormat(), Samples: []float64{0.8, 0.8, 0.8, 0.8}})

	out := m.Subscribe(4)
	m.TickOnce()

	c, ok := out.Pop()
	require.True(t, ok)
	require.Len(t, c.Samples, 4)
	for _, v := range c.Samples {
		assert.LessOrEqual(t, v, 1.0)
		assert.GreaterOrEqual(t, v, -1.0)
	}
}

func TestMixerTickOnceWithNoLanesProducesSilentSum(t *testing.T) {
	cfg := config.Default().SAM
	m := NewMixer("sink-2", testFormat(), 4, cfg, SinkParams{GainLinear: 1}, nil)
	out := m.Subscribe(4)
	m.TickOnce()

	c, ok := out.Pop()
	require.True(t, ok)
	for _, v := range c.Samples {
		assert.Equal(t, 0.0, v)
	}
}

func TestMixerIgnoresSilenceMarkedChunks(t *testing.T) {
	cfg := config.Default().SAM
	m := NewMixer("sink-3", testFormat(), 4, cfg, SinkParams{GainLinear: 1}, nil)
	l := m.AddLane("path-a", cfg)
	l.Push(sip.Chunk{Format: testFormat(), Samples: []float64{0.5, 0.5, 0.5, 0.5}, Silence: true})

	out := m.Subscribe(4)
	m.TickOnce()

	c, ok := out.Pop()
	require.True(t, ok)
	for _, v := range c.Samples {
		assert.Equal(t, 0.0, v)
	}
}

func TestMixerRemoveLaneStopsItContributing(t *testing.T) {
	cfg := config.Default().SAM
	m := NewMixer("sink-4", testFormat(), 4, cfg, SinkParams{GainLinear: 1}, nil)
	m.AddLane("path-a", cfg)
	m.RemoveLane("path-a")

	m.lanesMu.RLock()
	_, ok := m.lanes["path-a"]
	m.lanesMu.RUnlock()
	assert.False(t, ok)
}

func TestMixerUnsubscribeRemovesOutput(t *testing.T) {
	cfg := config.Default().SAM
	m := NewMixer("sink-5", testFormat(), 4, cfg, SinkParams{GainLinear: 1}, nil)
	out := m.Subscribe(4)
	m.Unsubscribe(out)

	m.outputsMu.Lock()
	n := len(m.outputs)
	m.outputsMu.Unlock()
	assert.Zero(t, n)
}

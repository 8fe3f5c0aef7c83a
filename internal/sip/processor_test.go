package sip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/timeshift"
)

func TestSIPPullProducesAudibleChunkWhenDataIsReady(t *testing.T) {
	cfg := config.Default().Timeshift
	buf := timeshift.New(cfg, nil)
	tag := frame.Tag("test-source")

	cursor := buf.NewCursor(tag, 0, 0)

	format := frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 1, Layout: frame.LayoutMono}
	samples := make([]float64, 8)
	for i := range samples {
		samples[i] = 0.5
	}
	payload := PackBytes(nil, samples, format.BitDepth)

	arrival := timeshift.Now()
	buf.Write(frame.PCM{SourceTag: tag, ArrivalInstant: arrival, Format: format, Data: payload})

	params := NewParamsHolder(DefaultParams(format))
	s := NewSIP(tag, cursor, format, params, nopLogger())

	// Advance well past the target buffer level so the written frame's
	// scheduled playout deadline has passed.
	now := arrival + cfg.TargetBufferLevel + 200*time.Millisecond
	chunk := s.Pull(now, 4)

	require.False(t, chunk.Silence)
	require.Len(t, chunk.Samples, 4)
	nonZero := false
	for _, v := range chunk.Samples {
		if v != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero)
}

func TestSIPPullEmitsSilenceOnStarvation(t *testing.T) {
	cfg := config.Default().Timeshift
	buf := timeshift.New(cfg, nil)
	tag := frame.Tag("empty-source")
	cursor := buf.NewCursor(tag, 0, 0)

	format := frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 1, Layout: frame.LayoutMono}
	params := NewParamsHolder(DefaultParams(format))
	s := NewSIP(tag, cursor, format, params, nopLogger())

	chunk := s.Pull(timeshift.Now(), 4)
	assert.True(t, chunk.Silence)
	assert.Len(t, chunk.Samples, 4)
}

func TestSIPSetRateTrimClampsToMaxRateAdjustment(t *testing.T) {
	cfg := config.Default().Timeshift
	buf := timeshift.New(cfg, nil)
	tag := frame.Tag("trim-source")
	cursor := buf.NewCursor(tag, 0, 0)

	format := frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 1, Layout: frame.LayoutMono}
	p := DefaultParams(format)
	p.MaxRateAdjustment = 0.01
	params := NewParamsHolder(p)
	s := NewSIP(tag, cursor, format, params, nopLogger())

	s.SetRateTrim(5) // way over the bound
	assert.Equal(t, 0.01, s.resampler.trim)

	s.SetRateTrim(-5)
	assert.Equal(t, -0.01, s.resampler.trim)
}

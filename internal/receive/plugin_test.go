package receive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/timeshift"
)

func newTestPluginIngress() *PluginIngress {
	return NewPluginIngress(timeshift.New(config.Default().Timeshift, nil), nopLogger())
}

func TestWritePluginPacketAcceptsValidPacket(t *testing.T) {
	p := newTestPluginIngress()
	ok := p.WritePluginPacket("game-proc-1", []byte{1, 2, 3, 4}, 2, frame.Rate48000, frame.Depth16, 0x3, 0x0)
	require.True(t, ok)
	assert.Contains(t, p.seen.Snapshot(), frame.Canonicalize("game-proc-1"))
	assert.EqualValues(t, 1, p.Stats().Snapshot().PacketsTotal)
}

func TestWritePluginPacketRejectsInvalidSampleRate(t *testing.T) {
	p := newTestPluginIngress()
	ok := p.WritePluginPacket("x", []byte{1}, 2, frame.SampleRate(12345), frame.Depth16, 0, 0)
	assert.False(t, ok)
}

func TestWritePluginPacketRejectsInvalidChannelCount(t *testing.T) {
	p := newTestPluginIngress()
	ok := p.WritePluginPacket("x", []byte{1}, 0, frame.Rate48000, frame.Depth16, 0, 0)
	assert.False(t, ok)
}

func TestWritePluginPacketRejectsEmptySourceID(t *testing.T) {
	p := newTestPluginIngress()
	ok := p.WritePluginPacket("", []byte{1}, 2, frame.Rate48000, frame.Depth16, 0, 0)
	assert.False(t, ok)
}

func TestWritePluginPacketAcceptsUnknownMaskDefaultingToStereo(t *testing.T) {
	p := newTestPluginIngress()
	ok := p.WritePluginPacket("y", []byte{1, 2}, 2, frame.Rate48000, frame.Depth16, 0xFF, 0xFF)
	assert.True(t, ok)
}

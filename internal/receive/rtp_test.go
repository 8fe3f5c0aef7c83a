package receive

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/timeshift"
)

func newTestRTPReceiver() *RTPReceiver {
	return &RTPReceiver{
		buffer:  timeshift.New(config.Default().Timeshift, nil),
		seen:    NewSeenTags(8),
		formats: make(map[frame.Tag]SAPAnnouncement),
		logger:  nopLogger(),
	}
}

func TestRTPReceiverUsesAnnouncedFormat(t *testing.T) {
	r := newTestRTPReceiver()
	tag := tagFromAddr(testAddr("10.0.0.9"))
	r.Announce(tag, frame.Format{SampleRate: frame.Rate44100, BitDepth: frame.Depth24, Channels: 1, Layout: frame.LayoutMono})

	pkt := &rtp.Packet{Payload: []byte{1, 2, 3, 4}}
	r.handlePacket(pkt, testAddr("10.0.0.9"))

	require.EqualValues(t, 1, r.Stats().Snapshot().PacketsTotal)
	anns := r.Announcements()
	ann, ok := anns[tag]
	require.True(t, ok)
	assert.Equal(t, frame.Rate44100, ann.Format.SampleRate)
}

func TestRTPReceiverFallsBackWithoutAnnouncement(t *testing.T) {
	r := newTestRTPReceiver()
	pkt := &rtp.Packet{Payload: []byte{1, 2}}
	r.handlePacket(pkt, testAddr("10.0.0.10"))

	tag := tagFromAddr(testAddr("10.0.0.10"))
	assert.Contains(t, r.SeenTags(), tag)
}

package encode

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sip"
)

func TestRTPSenderSendIncrementsSeqAndTimestamp(t *testing.T) {
	var sent []*rtp.Packet
	write := func(p *rtp.Packet) error {
		sent = append(sent, p)
		return nil
	}
	s := NewRTPSender(write, nil, 96, PayloadL16, 48000, 0xdeadbeef, nil)

	chunk := sip.Chunk{Format: frame.Format{Channels: 2, SampleRate: frame.Rate48000}, Samples: make([]float64, 8)}
	s.send(chunk)
	s.send(chunk)

	require.Len(t, sent, 2)
	assert.EqualValues(t, 0, sent[0].SequenceNumber)
	assert.EqualValues(t, 1, sent[1].SequenceNumber)
	assert.EqualValues(t, 0, sent[0].Timestamp)
	assert.EqualValues(t, 4, sent[1].Timestamp) // 8 samples / 2 channels per call
	assert.EqualValues(t, 0xdeadbeef, sent[0].SSRC)
}

func TestRTPSenderEncodesPCMUWhenRequested(t *testing.T) {
	var sent []*rtp.Packet
	write := func(p *rtp.Packet) error {
		sent = append(sent, p)
		return nil
	}
	s := NewRTPSender(write, nil, 0, PayloadPCMU, 8000, 1, nil)

	chunk := sip.Chunk{Format: frame.Format{Channels: 1, SampleRate: frame.Rate48000}, Samples: []float64{0, 0.1, -0.1, 0.5}}
	s.send(chunk)

	require.Len(t, sent, 1)
	// u-law halves the byte count versus 16-bit linear PCM.
	assert.Len(t, sent[0].Payload, 4)
}

func TestRTPSenderNotesDropOnWriteFailure(t *testing.T) {
	write := func(p *rtp.Packet) error { return errors.New("boom") }
	s := NewRTPSender(write, nil, 0, PayloadL16, 48000, 1, nil)

	s.send(sip.Chunk{Format: frame.Format{Channels: 1}, Samples: []float64{0.1}})
	assert.EqualValues(t, 1, s.Stats().Snapshot().PacketsDropped)
}

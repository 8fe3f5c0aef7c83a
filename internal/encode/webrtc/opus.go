// Package webrtc implements the per-listener WebRTC encoder variant: a
// WHEP-style offer/answer listener attached to a sink that encodes mixed
// PCM to Opus and sends it over an SRTP/DTLS peer connection (§4.5, §6).
package webrtc

import (
	"gopkg.in/hraban/opus.v2"

	"github.com/patchbay/engine/internal/frame"
)

const (
	// OpusSampleRate is the clock rate WebRTC browsers expect for the Opus
	// payload regardless of the sink's own mix sample rate (RFC 7587).
	OpusSampleRate = 48000
	// OpusChannels matches the SDP's opus/48000/2 signaling even for a
	// mono-mixed sink, per RFC 7587.
	OpusChannels = 2
	// OpusFrameMillis is the Opus frame duration this encoder packs.
	OpusFrameMillis = 20
	OpusFrameSamples = OpusSampleRate * OpusFrameMillis / 1000
)

// opusFrameEncoder wraps hraban/opus.v2's Encoder, always driving it at
// 48kHz/stereo so the output track's SDP never has to vary per-sink sample
// rate (the SAM mixer output feeding this is resampled beforehand).
type opusFrameEncoder struct {
	enc *opus.Encoder
	buf []byte
	pcm []int16
}

func newOpusFrameEncoder() (*opusFrameEncoder, error) {
	enc, err := opus.NewEncoder(OpusSampleRate, OpusChannels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &opusFrameEncoder{enc: enc, buf: make([]byte, 4000)}, nil
}

// encode packs one 20ms frame of interleaved float64 48kHz stereo samples
// (exactly OpusFrameSamples*OpusChannels values) into an Opus packet.
func (e *opusFrameEncoder) encode(samples []float64) ([]byte, error) {
	e.pcm = frame.ToPCM16(e.pcm, samples)
	n, err := e.enc.Encode(e.pcm, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// Package frame defines the PCM frame type carried from receivers through
// the timeshift buffer into source input processors, and the wire formats
// used to describe it (§3, §6 of the engine design).
package frame

import "time"

// BitDepth is a supported PCM sample width.
type BitDepth int

const (
	Depth16 BitDepth = 16
	Depth24 BitDepth = 24
	Depth32 BitDepth = 32
)

func (d BitDepth) Bytes() int {
	return int(d) / 8
}

func (d BitDepth) Valid() bool {
	switch d {
	case Depth16, Depth24, Depth32:
		return true
	}
	return false
}

// SampleRate enumerates the sample rates the engine accepts on ingress.
// Sinks may target any of these independent of the source's rate.
type SampleRate int

const (
	Rate44100 SampleRate = 44100
	Rate48000 SampleRate = 48000
	Rate88200 SampleRate = 88200
	Rate96000 SampleRate = 96000
	Rate192000 SampleRate = 192000
)

func (r SampleRate) Valid() bool {
	switch r {
	case Rate44100, Rate48000, Rate88200, Rate96000, Rate192000:
		return true
	}
	return false
}

// Format describes the logical shape of a PCM stream: rate, depth, channel
// count and layout. It is carried by every PCM frame and is the target
// format a SIP converts its input into.
type Format struct {
	SampleRate SampleRate
	BitDepth   BitDepth
	Channels   int
	Layout     ChannelLayout
}

// SamplesPerFrame is the fixed logical frame size specified in §3: 1152
// samples per channel, the "PCM frame" logical unit.
const SamplesPerFrame = 1152

// FrameBytes returns the size in bytes of one logical PCM frame (all
// channels interleaved) in this format.
func (f Format) FrameBytes() int {
	ch := f.Channels
	if ch < 1 {
		ch = 1
	}
	return SamplesPerFrame * ch * f.BitDepth.Bytes()
}

// Duration returns the playback duration of one logical frame.
func (f Format) Duration() time.Duration {
	sr := int(f.SampleRate)
	if sr < 1 {
		sr = 1
	}
	return time.Duration(SamplesPerFrame) * time.Second / time.Duration(sr)
}

// ChunkFormat describes a SIP/SAM fixed-size output chunk: a format plus the
// number of samples-per-channel each pushed chunk carries (§4.3 "Output
// chunking", §4.4 mix tick).
type ChunkFormat struct {
	Format
	ChunkSamples int
}

func (c ChunkFormat) ChunkBytes() int {
	ch := c.Channels
	if ch < 1 {
		ch = 1
	}
	return c.ChunkSamples * ch * c.BitDepth.Bytes()
}

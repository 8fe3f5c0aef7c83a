package sip

import "github.com/patchbay/engine/internal/frame"

// Chunk is one SIP's fixed-size output unit, handed to a SAM lane once per
// mix tick (§4.3 "Output chunking", §4.4). Samples are interleaved,
// normalized float64 in [-1, 1], already quantized to Format.BitDepth's
// grid by the requantizer stage but not yet packed to bytes — the mixer
// sums several of these before a single final saturation and pack.
type Chunk struct {
	Format  frame.Format
	Samples []float64 // len == ChunkSamples * Format.Channels
	// Silence marks a chunk synthesized because the source path starved
	// (§4.3 "Failure model"); SAM lanes use this to drive hold-timeout
	// before falling back to silence in the mix.
	Silence bool
}

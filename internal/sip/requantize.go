package sip

import (
	"math"
	"math/rand"

	"github.com/patchbay/engine/internal/frame"
)

// Requantizer converts float64 samples (normalized to [-1, 1)) to the
// sink's target bit depth with triangular dither and a first-order
// noise-shaping feedback term (§4.3 stage 2: "noise shaping factor from
// config").
type Requantizer struct {
	depth        frame.BitDepth
	shapingFactor float64
	errFeedback  []float64 // per-channel noise-shaping error memory
	channels     int
	rnd          *rand.Rand
}

func NewRequantizer(depth frame.BitDepth, channels int, shapingFactor float64) *Requantizer {
	return &Requantizer{
		depth:         depth,
		shapingFactor: shapingFactor,
		errFeedback:   make([]float64, channels),
		channels:      channels,
		rnd:           rand.New(rand.NewSource(1)),
	}
}

func (r *Requantizer) maxValue() float64 {
	switch r.depth {
	case frame.Depth16:
		return 1<<15 - 1
	case frame.Depth24:
		return 1<<23 - 1
	case frame.Depth32:
		return 1<<31 - 1
	}
	return 1<<15 - 1
}

// Process quantizes samples in place to integer levels (still stored as
// float64, rounded) for the caller to pack into bytes at the target width.
func (r *Requantizer) Process(samples []float64) {
	if r.channels < 1 {
		return
	}
	scale := r.maxValue()
	for i := range samples {
		ch := i % r.channels
		v := samples[i]*scale + r.errFeedback[ch]*r.shapingFactor

		// Triangular-PDF dither: sum of two uniform randoms centered on 0.
		dither := (r.rnd.Float64() + r.rnd.Float64() - 1) * 0.5
		q := math.Round(v + dither)
		if q > scale {
			q = scale
		} else if q < -scale-1 {
			q = -scale - 1
		}

		r.errFeedback[ch] = v - q
		samples[i] = q / scale
	}
}

// PackBytes converts quantized (but still float64, in [-1,1]-normalized)
// samples into interleaved bytes at depth, little-endian.
func PackBytes(dst []byte, samples []float64, depth frame.BitDepth) []byte {
	bytesPer := depth.Bytes()
	need := len(samples) * bytesPer
	if cap(dst) < need {
		dst = make([]byte, need)
	} else {
		dst = dst[:need]
	}
	scale := (1 << (uint(depth) - 1)) - 1
	for i, s := range samples {
		v := int64(s * float64(scale))
		off := i * bytesPer
		switch depth {
		case frame.Depth16:
			u := uint16(int16(v))
			dst[off] = byte(u)
			dst[off+1] = byte(u >> 8)
		case frame.Depth24:
			u := uint32(int32(v)) & 0xFFFFFF
			dst[off] = byte(u)
			dst[off+1] = byte(u >> 8)
			dst[off+2] = byte(u >> 16)
		case frame.Depth32:
			u := uint32(int32(v))
			dst[off] = byte(u)
			dst[off+1] = byte(u >> 8)
			dst[off+2] = byte(u >> 16)
			dst[off+3] = byte(u >> 24)
		}
	}
	return dst
}

// UnpackFloats converts interleaved PCM bytes at depth into normalized
// float64 samples in [-1, 1).
func UnpackFloats(dst []float64, src []byte, depth frame.BitDepth) []float64 {
	bytesPer := depth.Bytes()
	n := len(src) / bytesPer
	if cap(dst) < n {
		dst = make([]float64, n)
	} else {
		dst = dst[:n]
	}
	scale := float64((1 << (uint(depth) - 1)) - 1)
	for i := 0; i < n; i++ {
		off := i * bytesPer
		var v int32
		switch depth {
		case frame.Depth16:
			v = int32(int16(uint16(src[off]) | uint16(src[off+1])<<8))
		case frame.Depth24:
			u := uint32(src[off]) | uint32(src[off+1])<<8 | uint32(src[off+2])<<16
			if u&0x800000 != 0 {
				u |= 0xFF000000
			}
			v = int32(u)
		case frame.Depth32:
			v = int32(uint32(src[off]) | uint32(src[off+1])<<8 | uint32(src[off+2])<<16 | uint32(src[off+3])<<24)
		}
		dst[i] = float64(v) / scale
	}
	return dst
}

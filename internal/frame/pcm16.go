package frame

import msdk "github.com/livekit/media-sdk"

// ToPCM16 converts normalized float64 samples in [-1, 1] into a
// msdk.PCM16Sample, clamping out-of-range values rather than wrapping them.
// Used at encoder boundaries (WebRTC Opus, anywhere else a consumer wants
// the media-sdk sample type instead of raw bytes) so those encoders share
// the same PCM16 type the rest of the livekit-adjacent stack expects.
func ToPCM16(dst msdk.PCM16Sample, samples []float64) msdk.PCM16Sample {
	if cap(dst) < len(samples) {
		dst = make(msdk.PCM16Sample, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		dst[i] = int16(s * 32767)
	}
	return dst
}

// FromPCM16 expands a msdk.PCM16Sample back into normalized float64 samples.
func FromPCM16(dst []float64, src msdk.PCM16Sample) []float64 {
	if cap(dst) < len(src) {
		dst = make([]float64, len(src))
	} else {
		dst = dst[:len(src)]
	}
	for i, s := range src {
		dst[i] = float64(s) / 32768
	}
	return dst
}

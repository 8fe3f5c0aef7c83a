package sip

// Resampler converts interleaved float64 samples from one rate to another,
// continuously nudgeable by a small bounded ratio trim so a SIP enrolled in
// a multi-sink synchronization group can track drift without a hard
// restart (§4.3 stage 1, §4.4 "soft barrier with rate correction").
//
// Uses cubic Hermite interpolation over a rolling float64 history per
// channel rather than an int16-oriented polyphase library, so each SIP can
// own private, lock-free interpolation state and apply the continuous
// fractional-ratio trim the sync group's rate-skew feedback (§4.4) needs
// every tick.
type Resampler struct {
	channels   int
	sourceRate float64
	targetRate float64
	trim       float64 // bounded fractional ratio adjustment, see SetTrim

	pos     float64 // fractional read position into history, in source samples
	history [][4]float64 // per-channel last 4 input samples for cubic interpolation
	filled  int
}

func NewResampler(sourceRate, targetRate float64, channels int) *Resampler {
	r := &Resampler{channels: channels}
	r.Reconfigure(sourceRate, targetRate, channels)
	return r
}

func (r *Resampler) Reconfigure(sourceRate, targetRate float64, channels int) {
	r.sourceRate = sourceRate
	r.targetRate = targetRate
	r.channels = channels
	r.trim = 0
	r.pos = 0
	r.history = make([][4]float64, channels)
	r.filled = 0
}

// SetTrim adjusts the effective resample ratio by a small bounded fraction,
// e.g. 0.0005 slows playout by 0.05% to drain a lagging sink's lane rather
// than dropping chunks. Magnitude is clamped by the caller to
// max_rate_adjustment before this is invoked.
func (r *Resampler) SetTrim(trim float64) {
	r.trim = trim
}

func (r *Resampler) ratio() float64 {
	if r.sourceRate <= 0 {
		return 1
	}
	return (r.targetRate / r.sourceRate) * (1 - r.trim)
}

// cubicHermite interpolates at fractional position t in [0,1) given the
// four surrounding samples y0..y3 (y1, y2 bracket t).
func cubicHermite(y0, y1, y2, y3, t float64) float64 {
	a0 := y3 - y2 - y0 + y1
	a1 := y0 - y1 - a0
	a2 := y2 - y0
	a3 := y1
	return a0*t*t*t + a1*t*t + a2*t + a3
}

// Process resamples one interleaved block of input to interleaved output.
// Pass-through (ratio ~1, no trim) is still routed through the same path so
// behavior is uniform across format changes.
func (r *Resampler) Process(in []float64) []float64 {
	if r.channels < 1 || len(in) == 0 {
		return nil
	}
	inFrames := len(in) / r.channels
	ratio := r.ratio()
	if ratio <= 0 {
		ratio = 1
	}
	step := 1 / ratio

	outFrames := int(float64(inFrames) * ratio)
	out := make([]float64, outFrames*r.channels)

	at := func(ch, frame int) float64 {
		if frame < 0 {
			// Draw from this channel's trailing history of the previous block.
			idx := 4 + frame
			if idx < 0 || idx >= 4 {
				return 0
			}
			return r.history[ch][idx]
		}
		if frame >= inFrames {
			return 0
		}
		return in[frame*r.channels+ch]
	}

	pos := r.pos
	for of := 0; of < outFrames; of++ {
		base := int(pos)
		frac := pos - float64(base)
		for ch := 0; ch < r.channels; ch++ {
			y0 := at(ch, base-1)
			y1 := at(ch, base)
			y2 := at(ch, base+1)
			y3 := at(ch, base+2)
			out[of*r.channels+ch] = cubicHermite(y0, y1, y2, y3, frac)
		}
		pos += step
	}

	// Carry the tail of this block forward as history for the next call.
	for ch := 0; ch < r.channels; ch++ {
		for k := 0; k < 4; k++ {
			f := inFrames - 4 + k
			r.history[ch][k] = at(ch, f)
		}
	}
	r.pos = pos - float64(inFrames)
	if r.pos < 0 {
		r.pos = 0
	}
	return out
}

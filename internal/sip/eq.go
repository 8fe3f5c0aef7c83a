package sip

import "math"

// EQBands is the fixed 18-band count specified in §4.3 stage 4.
const EQBands = 18

// EQCenterFrequencies are the fixed center frequencies, 65 Hz .. 20 kHz,
// spaced geometrically (§4.3: "18 bands ... at fixed centre frequencies
// 65 Hz ... 20 kHz").
var EQCenterFrequencies = func() [EQBands]float64 {
	var f [EQBands]float64
	const lo, hi = 65.0, 20000.0
	ratio := math.Pow(hi/lo, 1.0/float64(EQBands-1))
	v := lo
	for i := 0; i < EQBands; i++ {
		f[i] = v
		v *= ratio
	}
	return f
}()

// EQGains is an 18-band gain vector in dB. A zero vector is the unit EQ
// (§8 round-trip: "multiplying an 18-band unit EQ with any EQ yields the
// same EQ").
type EQGains [EQBands]float64

// ComposeGains implements the §4.6 equalizer composition rule: "the
// applier composes them by multiplying band gains". Gains are stored in dB,
// so composition is addition in the log domain (equivalent to multiplying
// the linear gains).
func ComposeGains(a, b EQGains) EQGains {
	var out EQGains
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return out
}

// biquad is a single peaking (parametric) filter section, Robert
// Bristow-Johnson's audio-eq-cookbook form.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func newPeakingBiquad(sampleRate, centerFreq, gainDB, q float64) biquad {
	if q <= 0 {
		q = 1.0
	}
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * centerFreq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)

	b0 := 1 + alpha*a
	b1 := -2 * cosW0
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosW0
	a2 := 1 - alpha/a

	return biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Equalizer is an 18-band peaking filter bank, one biquad chain per audio
// channel so multi-channel streams don't smear stereo/surround imaging.
type Equalizer struct {
	sampleRate   float64
	channels     int
	bands        [][EQBands]biquad // per-channel filter chains
	gains        EQGains
	normalize    bool
	normGain     float64
}

func NewEqualizer(sampleRate float64, channels int, gains EQGains, normalize bool) *Equalizer {
	eq := &Equalizer{sampleRate: sampleRate, channels: channels, gains: gains, normalize: normalize}
	eq.rebuild()
	return eq
}

func (eq *Equalizer) rebuild() {
	eq.bands = make([][EQBands]biquad, eq.channels)
	for ch := 0; ch < eq.channels; ch++ {
		var chain [EQBands]biquad
		for b := 0; b < EQBands; b++ {
			chain[b] = newPeakingBiquad(eq.sampleRate, EQCenterFrequencies[b], eq.gains[b], 1.4)
		}
		eq.bands[ch] = chain
	}
	if eq.normalize {
		// Normalization offsets the aggregate boost so a flat full-boost
		// configuration doesn't clip; approximate via the sum of positive
		// gains in dB converted back to a linear attenuation.
		var totalDB float64
		for _, g := range eq.gains {
			if g > 0 {
				totalDB += g
			}
		}
		eq.normGain = math.Pow(10, -totalDB/40/float64(EQBands))
	} else {
		eq.normGain = 1
	}
}

// SetGains applies new band gains at the next chunk boundary (§4.3
// "Reconfiguration": "Parameter updates ... are applied at chunk
// boundaries").
func (eq *Equalizer) SetGains(gains EQGains, normalize bool) {
	eq.gains = gains
	eq.normalize = normalize
	eq.rebuild()
}

// Process filters interleaved float64 samples in place.
func (eq *Equalizer) Process(samples []float64) {
	if eq.channels < 1 {
		return
	}
	for i := range samples {
		ch := i % eq.channels
		v := samples[i]
		for b := range eq.bands[ch] {
			v = eq.bands[ch][b].process(v)
		}
		samples[i] = v * eq.normGain
	}
}

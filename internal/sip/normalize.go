package sip

import "math"

// Normalizer implements optional volume normalization (§4.3 stage 7):
// attack/decay smoothed RMS-target gain. Disabled paths skip Process
// entirely rather than paying the RMS computation (§4.3 "(optional)").
type Normalizer struct {
	enabled    bool
	targetRMS  float64
	attackCoef float64
	decayCoef  float64
	gain       float64
	rms        float64
}

// NewNormalizer builds a normalizer with attack/decay time constants
// expressed as per-sample smoothing coefficients derived from the
// configured attack/decay durations and the sample rate.
func NewNormalizer(sampleRate float64, attackSeconds, decaySeconds, targetRMS float64) *Normalizer {
	return &Normalizer{
		targetRMS:  targetRMS,
		attackCoef: coefFor(sampleRate, attackSeconds),
		decayCoef:  coefFor(sampleRate, decaySeconds),
		gain:       1,
	}
}

func coefFor(sampleRate, seconds float64) float64 {
	if seconds <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(sampleRate*seconds))
}

func (n *Normalizer) SetEnabled(enabled bool) { n.enabled = enabled }

func (n *Normalizer) Process(samples []float64) {
	if !n.enabled || len(samples) == 0 {
		return
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}
	blockRMS := math.Sqrt(sumSq / float64(len(samples)))

	coef := n.decayCoef
	if blockRMS > n.rms {
		coef = n.attackCoef
	}
	n.rms += (blockRMS - n.rms) * coef

	if n.rms > 1e-9 {
		targetGain := n.targetRMS / n.rms
		// Avoid runaway gain on near-silent blocks.
		if targetGain > 8 {
			targetGain = 8
		}
		n.gain += (targetGain - n.gain) * coef
	}
	for i := range samples {
		samples[i] *= n.gain
	}
}

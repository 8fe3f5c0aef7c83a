package sip

import "math"

// VolumeControl applies a target linear gain with exponential smoothing
// (§4.3 stage 6, volume_smoothing_factor) so gain changes (e.g. a hot
// reconfiguration, §8 scenario 4) ramp rather than step.
type VolumeControl struct {
	current float64
	target  float64
	alpha   float64 // smoothing_factor, in (0, 1]
}

func NewVolumeControl(initialGain, smoothingFactor float64) *VolumeControl {
	if smoothingFactor <= 0 || smoothingFactor > 1 {
		smoothingFactor = 0.01
	}
	return &VolumeControl{current: initialGain, target: initialGain, alpha: smoothingFactor}
}

func (v *VolumeControl) SetTarget(gain float64) {
	v.target = gain
}

func (v *VolumeControl) Process(samples []float64) {
	for i := range samples {
		v.current += (v.target - v.current) * v.alpha
		samples[i] *= v.current
	}
}

// CurrentGain returns the smoothed gain as of the last processed sample, in
// linear units; CurrentGainDB converts it to dB for reporting.
func (v *VolumeControl) CurrentGain() float64 { return v.current }

func (v *VolumeControl) CurrentGainDB() float64 {
	if v.current <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v.current)
}

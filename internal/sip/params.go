package sip

import (
	"sync/atomic"

	"github.com/patchbay/engine/internal/frame"
)

// Params is an immutable snapshot of everything an operator can change on a
// source path (§3 "Source path", §5 "atomic snapshot pointer swapped at
// chunk boundaries"). A SIP never mutates a live Params; it builds a new
// one and swaps the pointer.
type Params struct {
	TargetFormat frame.Format

	VolumeGainLinear float64
	VolumeSmoothing  float64

	EQGains     [EQBands]float64
	EQNormalize bool

	DelayMillis float64

	Matrix Matrix

	NormalizeEnabled     bool
	NormalizeTargetRMS   float64
	NormalizeAttackSecs  float64
	NormalizeDecaySecs   float64

	DCFilterCutoffHz float64

	NoiseShapingFactor float64

	// MaxRateAdjustment bounds the fractional resample trim a SIP may apply
	// while tracking a multi-sink synchronization group (§4.4).
	MaxRateAdjustment float64
}

// DefaultParams returns a Params with the engine's documented defaults for
// an otherwise-unconfigured source path.
func DefaultParams(target frame.Format) *Params {
	return &Params{
		TargetFormat:        target,
		VolumeGainLinear:    1,
		VolumeSmoothing:     0.01,
		EQNormalize:         false,
		DelayMillis:         0,
		Matrix:              Identity(),
		NormalizeEnabled:    false,
		NormalizeTargetRMS:  0.1,
		NormalizeAttackSecs: 0.01,
		NormalizeDecaySecs:  0.2,
		DCFilterCutoffHz:    5,
		NoiseShapingFactor:  0.5,
		MaxRateAdjustment:   0.002,
	}
}

// ParamsHolder is an atomically-swapped pointer to the live Params, so the
// processing goroutine can load a consistent snapshot per chunk while an
// operator goroutine installs updates concurrently.
type ParamsHolder struct {
	v atomic.Pointer[Params]
}

func NewParamsHolder(initial *Params) *ParamsHolder {
	h := &ParamsHolder{}
	h.v.Store(initial)
	return h
}

func (h *ParamsHolder) Load() *Params { return h.v.Load() }

func (h *ParamsHolder) Store(p *Params) { h.v.Store(p) }

package applier

import "github.com/patchbay/engine/internal/sip"

// ComposeChainGains folds a source -> route -> sink chain of band gains
// into one. Gains are stored in dB (a zero vector is the unit EQ), so the
// fold starts from the zero value and composes via addition in the log
// domain (§4.6 "the applier composes them by multiplying band gains" —
// multiplying linear gains is adding their dB values).
func ComposeChainGains(stages ...sip.EQGains) sip.EQGains {
	var out sip.EQGains
	for _, g := range stages {
		out = sip.ComposeGains(out, g)
	}
	return out
}

// ComposeNormalize OR-combines normalization flags across a chain
// (§4.6 "normalization flags are OR-combined").
func ComposeNormalize(flags ...bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

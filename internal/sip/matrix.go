package sip

import "gonum.org/v1/gonum/mat"

// Matrix is the 8x8 speaker-mix gain table described in §4.6: gain from
// input channel i to output channel j. Composition is standard matrix
// multiplication, not Hadamard, "despite some surface-level UI phrasing"
// (§9 "Composition math").
type Matrix [8][8]float64

func (m Matrix) dense() *mat.Dense {
	data := make([]float64, 64)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			data[i*8+j] = m[i][j]
		}
	}
	return mat.NewDense(8, 8, data)
}

func matrixFromDense(d mat.Matrix) Matrix {
	var m Matrix
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}

// Identity returns the neutral matrix: channel i passes through to output i
// unchanged, every cross-channel gain zero.
func Identity() Matrix {
	var m Matrix
	for i := 0; i < 8; i++ {
		m[i][i] = 1
	}
	return m
}

// Multiply computes a*b as standard matrix product (§4.6, §9), via gonum's
// dense BLAS-backed multiply — composition happens at configuration-apply
// time (applier.composePair), not on the per-sample hot path, so the extra
// allocation is immaterial and the well-tested implementation is preferred
// over hand-rolled triple-nested loops.
func Multiply(a, b Matrix) Matrix {
	var out mat.Dense
	out.Mul(a.dense(), b.dense())
	return matrixFromDense(&out)
}

// Apply downmixes/upmixes interleaved frames from inCh channels to outCh
// channels using m as given (§4.3 stage 3); only the first 8 input and
// output channels are mixed. The default matrix for a channel-count change
// comes from DefaultDownmixUpmix, not from Apply.
func Apply(m Matrix, in []float64, inCh, outCh int) []float64 {
	frames := len(in) / max(inCh, 1)
	out := make([]float64, frames*outCh)
	for f := 0; f < frames; f++ {
		for j := 0; j < outCh && j < 8; j++ {
			var sum float64
			for i := 0; i < inCh && i < 8; i++ {
				sum += m[i][j] * in[f*inCh+i]
			}
			out[f*outCh+j] = sum
		}
	}
	return out
}

// DefaultDownmixUpmix returns a sane default matrix for converting between
// inCh and outCh channels when no explicit matrix was configured — the
// "identity or downmix policy parameterised by channel count" in §4.3
// stage 3, and the "auto at a physical sink expands to a default
// downmix/upmix" rule in §4.6.
func DefaultDownmixUpmix(inCh, outCh int) Matrix {
	if inCh == outCh {
		return Identity()
	}
	var m Matrix
	switch {
	case inCh == 2 && outCh == 1:
		// Stereo to mono: average L+R into the mono output.
		m[0][0] = 0.5
		m[1][0] = 0.5
	case inCh == 1 && outCh == 2:
		// Mono to stereo: duplicate into both channels.
		m[0][0] = 1
		m[0][1] = 1
	case inCh == 6 && outCh == 2:
		// 5.1 (FL,FR,FC,LFE,BL,BR) down to stereo, standard ITU-ish weights.
		m[0][0], m[2][0], m[4][0] = 1, 0.707, 0.707
		m[1][1], m[2][1], m[5][1] = 1, 0.707, 0.707
	case outCh < inCh:
		// Best-effort: route the first outCh input channels straight
		// through, drop the rest.
		for i := 0; i < outCh; i++ {
			m[i][i] = 1
		}
	default:
		// Upmix to more channels than we have a named rule for: duplicate
		// input channels round-robin into the extra outputs.
		for j := 0; j < outCh; j++ {
			m[j%max(inCh, 1)][j] = 1
		}
	}
	return m
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package applier

import "github.com/patchbay/engine/internal/sip"

// ComposeLayoutEntries folds a chain of per-input-channel-count layout
// entries into one, following §4.6's composition rules verbatim: matrix ×
// matrix = matrix product; matrix × auto = matrix wins; auto × auto = auto
// (identity). The fold is associative since matrix multiplication is
// associative and "auto" is a neutral element with respect to "matrix
// wins" (§9 "Composition math").
func ComposeLayoutEntries(entries ...LayoutEntry) LayoutEntry {
	out := LayoutEntry{Auto: true}
	for _, e := range entries {
		out = composePair(out, e)
	}
	return out
}

func composePair(a, b LayoutEntry) LayoutEntry {
	switch {
	case a.Auto && b.Auto:
		return LayoutEntry{Auto: true}
	case a.Auto && !b.Auto:
		return LayoutEntry{Auto: false, Matrix: b.Matrix}
	case !a.Auto && b.Auto:
		return LayoutEntry{Auto: false, Matrix: a.Matrix}
	default:
		return LayoutEntry{Auto: false, Matrix: sip.Multiply(a.Matrix, b.Matrix)}
	}
}

// ResolveMatrix expands a composed layout entry to a concrete matrix for a
// path whose source has inCh channels feeding a physical sink with outCh
// channels. "auto" at a physical sink expands to the sink's default
// downmix/upmix; "auto" anywhere else (this function is only ever called
// at the final sink boundary) would expand to identity, but every caller
// in this engine calls it at the sink boundary (§4.6).
func ResolveMatrix(entry LayoutEntry, inCh, outCh int) sip.Matrix {
	if entry.Auto {
		return sip.DefaultDownmixUpmix(inCh, outCh)
	}
	return entry.Matrix
}

// ResolveIdentityMatrix expands "auto" to identity, for intermediate
// (non-sink) stages of a composition chain (§4.6 "auto anywhere else
// expands to identity").
func ResolveIdentityMatrix(entry LayoutEntry) sip.Matrix {
	if entry.Auto {
		return sip.Identity()
	}
	return entry.Matrix
}

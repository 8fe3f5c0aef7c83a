package applier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patchbay/engine/internal/sip"
)

func TestComposeChainGainsEmptyIsUnit(t *testing.T) {
	var want sip.EQGains
	assert.Equal(t, want, ComposeChainGains())
}

func TestComposeChainGainsAddsAcrossStages(t *testing.T) {
	a := sip.EQGains{}
	b := sip.EQGains{}
	c := sip.EQGains{}
	a[0], b[0], c[0] = 1, 2, 3

	out := ComposeChainGains(a, b, c)
	assert.InDelta(t, 6, out[0], 1e-12)
}

func TestComposeNormalizeORsFlags(t *testing.T) {
	assert.False(t, ComposeNormalize())
	assert.False(t, ComposeNormalize(false, false))
	assert.True(t, ComposeNormalize(false, true, false))
}

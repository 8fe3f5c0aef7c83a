package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeTrimsAndStripsNULs(t *testing.T) {
	got := Canonicalize("  192.168.1.5\x00 ")
	assert.Equal(t, Tag("192.168.1.5"), got)
}

func TestCanonicalizeTruncatesToMaxTagBytes(t *testing.T) {
	raw := strings.Repeat("a", MaxTagBytes+10)
	got := Canonicalize(raw)
	assert.Len(t, got, MaxTagBytes)
}

func TestTagValid(t *testing.T) {
	assert.True(t, Tag("x").Valid())
	assert.False(t, Tag("").Valid())
	assert.False(t, Tag(strings.Repeat("a", MaxTagBytes+1)).Valid())
}

package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMP3EncoderRecentBytesBelowCapacityPreservesOrder(t *testing.T) {
	e := &MP3Encoder{cap: 4}
	e.ring = [][]byte{{1, 2}, {3, 4}}

	assert.Equal(t, []byte{1, 2, 3, 4}, e.RecentBytes())
}

func TestMP3EncoderRecentBytesAtCapacityWrapsFromRingAt(t *testing.T) {
	e := &MP3Encoder{cap: 3}
	// Ring full; ringAt points at the oldest (logically-first) slot.
	e.ring = [][]byte{{5, 6}, {1, 2}, {3, 4}}
	e.ringAt = 1

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, e.RecentBytes())
}

func TestMP3EncoderRecentBytesEmptyRingIsNil(t *testing.T) {
	e := &MP3Encoder{cap: 4}
	assert.Nil(t, e.RecentBytes())
}

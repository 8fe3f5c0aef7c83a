package timeshift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/engine/internal/stats"
)

func newTestCursor(r *ring, startSeq uint64) *Cursor {
	c := &Cursor{tag: "t", ring: r, targetBufferLevel: 100 * time.Millisecond, stats: &stats.StreamStats{}}
	c.nextSeq.Store(startSeq)
	c.epoch.Store(r.currentEpoch())
	return c
}

func TestCursorNextWaitsForDeadline(t *testing.T) {
	r := newRing()
	r.append(pcmAt("t", time.Second), 5*time.Second)
	c := newTestCursor(r, 0)

	_, ok := c.Next(4 * time.Second)
	assert.False(t, ok, "deadline hasn't arrived yet")

	f, ok := c.Next(5 * time.Second)
	require.True(t, ok)
	assert.Equal(t, time.Second, f.ArrivalInstant)

	_, ok = c.Next(5 * time.Second)
	assert.False(t, ok, "cursor already advanced past this entry")
}

func TestCursorNextReArmsOnEpochMismatch(t *testing.T) {
	r := newRing()
	r.append(pcmAt("t", time.Second), 0)
	c := newTestCursor(r, 0)

	r.resetEpoch()
	r.append(pcmAt("t", 10*time.Second), 0)

	_, ok := c.Next(100 * time.Second)
	assert.False(t, ok, "first call after a reset re-arms rather than replaying")

	head, tail := r.bounds()
	assert.Equal(t, tail, head+1) // one entry written after the reset
}

func TestCursorCatchUpSkipsWhenLaggingBeyondMax(t *testing.T) {
	r := newRing()
	for i := 1; i <= 10; i++ {
		r.append(pcmAt("t", time.Duration(i)*time.Second), time.Duration(i)*time.Second)
	}
	c := newTestCursor(r, 0)

	skipped := c.CatchUp(9*time.Second, 500*time.Millisecond, time.Second)
	assert.Greater(t, skipped, 0)
}

func TestCursorCatchUpNoOpWithinMaxLag(t *testing.T) {
	r := newRing()
	r.append(pcmAt("t", time.Second), time.Second)
	c := newTestCursor(r, 0)

	skipped := c.CatchUp(1200*time.Millisecond, 500*time.Millisecond, time.Second)
	assert.Equal(t, 0, skipped)
}

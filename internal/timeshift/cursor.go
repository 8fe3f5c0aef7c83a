package timeshift

import (
	"sync/atomic"
	"time"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/stats"
)

// Cursor is a single SIP's read position into its tag's ring (§4.2, §9
// "Cyclic/shared ownership": cursors carry only an index and an epoch, the
// ring itself is the single owner of the data).
type Cursor struct {
	tag   frame.Tag
	ring  *ring
	nextSeq atomic.Uint64
	epoch   atomic.Uint64

	// timeshiftOffset and delay are applied on top of the tag's anchor to
	// compute this cursor's personal playout deadline (§3 "Source path").
	timeshiftOffset atomic.Int64 // nanoseconds
	delay           atomic.Int64 // nanoseconds

	targetBufferLevel time.Duration
	stats             *stats.StreamStats
}

// SetParams updates the mutable per-path parameters a reconfiguration can
// change without tearing down the cursor (§3 "Source path", §5 "atomic
// snapshot pointer").
func (c *Cursor) SetParams(timeshiftOffset, delay time.Duration) {
	c.timeshiftOffset.Store(int64(timeshiftOffset))
	c.delay.Store(int64(delay))
}

// Next returns the next frame whose scheduled playout has arrived, or
// ok=false if the cursor has caught up to the live edge (caller should emit
// silence, §4.3 "Failure model"). now is the engine's monotonic clock.
func (c *Cursor) Next(now time.Duration) (f frame.PCM, ok bool) {
	if c.ring.currentEpoch() != c.epoch.Load() {
		// The tag was reset underneath us (session reset, §4.2); re-arm at
		// the live edge rather than replaying stale data.
		_, tail := c.ring.bounds()
		c.nextSeq.Store(tail)
		c.epoch.Store(c.ring.currentEpoch())
		return frame.PCM{}, false
	}

	seq := c.nextSeq.Load()
	e, present := c.ring.at(seq)
	if !present {
		head, _ := c.ring.bounds()
		if seq < head {
			// Fell behind the eviction horizon (§4.2 "lagging"); caller's
			// sweep loop is responsible for invoking CatchUp, this is just
			// a defensive clamp so Next never returns a phantom entry.
			c.nextSeq.Store(head)
		}
		return frame.PCM{}, false
	}
	if e.playoutDeadline+c.delayDuration()+time.Duration(c.timeshiftOffset.Load()) > now {
		return frame.PCM{}, false
	}
	c.nextSeq.Store(seq + 1)
	if c.stats != nil {
		c.stats.NotePacket(len(e.frame.Data))
	}
	return e.frame, true
}

func (c *Cursor) delayDuration() time.Duration {
	return time.Duration(c.delay.Load())
}

// CatchUp advances the cursor to the seq whose arrival corresponds to
// now-target when it has fallen behind by more than max_catchup_lag (§4.2,
// §7). Returns the number of entries skipped.
func (c *Cursor) CatchUp(now, maxCatchupLag, targetBufferLevel time.Duration) int {
	seq := c.nextSeq.Load()
	e, present := c.ring.at(seq)
	if !present {
		head, _ := c.ring.bounds()
		if seq >= head {
			return 0
		}
		c.nextSeq.Store(head)
		return int(head - seq)
	}
	personal := c.delayDuration() + time.Duration(c.timeshiftOffset.Load())
	lag := now - (e.playoutDeadline + personal)
	if lag <= maxCatchupLag {
		return 0
	}
	// Advance to the first entry whose personal playout is >= now - target.
	cutoff := now - targetBufferLevel - personal
	skipped := 0
	for {
		e, present := c.ring.at(seq)
		if !present || e.playoutDeadline >= cutoff {
			break
		}
		seq++
		skipped++
	}
	c.nextSeq.Store(seq)
	if c.stats != nil && skipped > 0 {
		c.stats.NoteLagSkip()
	}
	return skipped
}

// Stats returns the counter block backing this cursor's stream, for the
// operator-facing surfaces in §6.
func (c *Cursor) Stats() *stats.StreamStats { return c.stats }

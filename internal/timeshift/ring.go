package timeshift

import (
	"sync"
	"time"

	"github.com/patchbay/engine/internal/frame"
)

// entry is a frame plus its scheduled playout, per §3 "Timeshift entry".
type entry struct {
	seq             uint64
	frame           frame.PCM
	playoutDeadline time.Duration
}

// ring is the per-tag ordered store of entries (§4.2). It is guarded by its
// own fine-grained lock so readers on one tag never contend with writers or
// readers on another tag (§4.2 "Concurrency").
//
// Entries are addressed by a monotonically increasing sequence number
// rather than a slice index, so cursors (internal/timeshift/cursor.go) stay
// valid across evictions from the front: a cursor just remembers the next
// seq it wants, and compares that against ring.baseSeq to detect it has
// fallen behind the eviction horizon.
type ring struct {
	mu       sync.Mutex
	entries  []entry // entries[0] has seq == baseSeq
	baseSeq  uint64
	nextSeq  uint64
	epoch    uint64 // bumped on session reset (§4.2 "Discontinuity handling")
	lastArrival time.Duration
	hasLast  bool
}

func newRing() *ring {
	return &ring{}
}

// append inserts a new entry, keeping entries ordered by arrival_instant
// (§3 invariant). Packets usually arrive in order, so the common path is an
// O(1) tail append; a late arrival is inserted in place with a bounded
// backward scan.
func (r *ring) append(f frame.PCM, playoutDeadline time.Duration) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq
	r.nextSeq++
	e := entry{seq: seq, frame: f, playoutDeadline: playoutDeadline}

	if len(r.entries) == 0 || f.ArrivalInstant >= r.entries[len(r.entries)-1].frame.ArrivalInstant {
		r.entries = append(r.entries, e)
	} else {
		i := len(r.entries)
		for i > 0 && r.entries[i-1].frame.ArrivalInstant > f.ArrivalInstant {
			i--
		}
		r.entries = append(r.entries, entry{})
		copy(r.entries[i+1:], r.entries[i:])
		r.entries[i] = e
	}
	r.lastArrival = f.ArrivalInstant
	r.hasLast = true
	return seq
}

// evictOlderThan drops entries whose arrival_instant is older than cutoff
// (§4.2 "Eviction": strictly age-based). Returns the number evicted.
func (r *ring) evictOlderThan(cutoff time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for n < len(r.entries) && r.entries[n].frame.ArrivalInstant < cutoff {
		n++
	}
	if n == 0 {
		return 0
	}
	r.entries = r.entries[n:]
	r.baseSeq += uint64(n)
	return n
}

// resetEpoch clears the ring (used on a session-reset discontinuity, §4.2)
// and bumps the epoch so outstanding cursors know to re-anchor.
func (r *ring) resetEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.baseSeq = r.nextSeq
	r.epoch++
	return r.epoch
}

func (r *ring) currentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// at returns the entry for seq and whether it is currently available
// (neither evicted nor not-yet-written).
func (r *ring) at(seq uint64) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq < r.baseSeq || seq >= r.nextSeq {
		return entry{}, false
	}
	return r.entries[seq-r.baseSeq], true
}

// bounds returns head, the oldest available seq (the eviction horizon), and
// tail, one past the newest written seq.
func (r *ring) bounds() (head, tail uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseSeq, r.nextSeq
}

// since returns, oldest-first, the entries with arrival_instant >= cutoff.
// Used by the export snapshot API (§4.2 "Export").
func (r *ring) since(cutoff time.Duration) []frame.PCM {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]frame.PCM, 0, len(r.entries))
	for _, e := range r.entries {
		if e.frame.ArrivalInstant >= cutoff {
			out = append(out, e.frame)
		}
	}
	return out
}

func (r *ring) lastArrivalInstant() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastArrival, r.hasLast
}

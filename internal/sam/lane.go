// Package sam implements the Sink Audio Mixer: one instance per sink,
// barriering chunks from its SIPs' lanes, summing with saturation clamp,
// applying sink-level gain/EQ/delay, and publishing to the sink's encoders
// (§4.4).
package sam

import (
	"sync"
	"time"

	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/stats"
)

// Lane is a bounded, single-producer/single-consumer chunk queue used both
// as a SIP's output path into a mixer and as a mixer's output path into an
// encoder adapter (§4.4 "Ready-queue policy", §9 "one-way publisher/
// subscriber with bounded queues; no back-pointers").
//
// The spec names two queues per lane (an unbounded-feeling transfer queue
// and a small bounded ready queue). With exactly one consumer draining on
// a fixed tick, the two collapse to a single bounded FIFO without changing
// observable behavior: back-pressure always drops the oldest entry and the
// producer never blocks.
type Lane struct {
	mu       sync.Mutex
	q        []sip.Chunk
	maxQueue int
	stats    *stats.StreamStats

	lastPushedAt time.Time
	hasPushed    bool
}

// NewLane creates a lane capped at maxQueue chunks. stats may be nil.
func NewLane(maxQueue int, st *stats.StreamStats) *Lane {
	if maxQueue < 1 {
		maxQueue = 1
	}
	return &Lane{maxQueue: maxQueue, stats: st}
}

// Push enqueues a chunk, dropping the oldest queued chunk if the lane is
// already full (§4.4 "back-pressure ... drops the oldest chunks (counted),
// never blocks the SIP").
func (l *Lane) Push(c sip.Chunk) {
	l.mu.Lock()
	if len(l.q) >= l.maxQueue {
		l.q = l.q[1:]
		if l.stats != nil {
			l.stats.NoteDrop()
		}
	}
	l.q = append(l.q, c)
	l.lastPushedAt = time.Now()
	l.hasPushed = true
	l.mu.Unlock()
}

// Pop removes and returns the oldest queued chunk, or ok=false if empty.
func (l *Lane) Pop() (sip.Chunk, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.q) == 0 {
		return sip.Chunk{}, false
	}
	c := l.q[0]
	l.q = l.q[1:]
	return c, true
}

// WaitPop pops if possible, otherwise polls briefly until deadline in case
// the producer is merely running a tick behind, implementing the mixer's
// per-lane hold window (§4.4 "if a lane is empty beyond
// underrun_hold_timeout, treat that lane as silent for this tick").
func (l *Lane) WaitPop(deadline time.Time) (sip.Chunk, bool) {
	for {
		if c, ok := l.Pop(); ok {
			return c, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return sip.Chunk{}, false
		}
		wait := 1 * time.Millisecond
		if remaining < wait {
			wait = remaining
		}
		time.Sleep(wait)
	}
}

// Len reports the current queue depth, for diagnostics.
func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.q)
}

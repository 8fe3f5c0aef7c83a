// Package timeshift implements the single shared ring-buffer store keyed by
// source tag (§4.2): the playout clock anchor, age-based eviction, the
// lagging-cursor catch-up policy, and the discontinuity/session-reset rules.
//
// The timeshift buffer and the process-wide log queue are the engine's only
// true singletons (§9 "Global state"); everything else is instance-scoped,
// created and destroyed by the config applier.
package timeshift

import (
	"log/slog"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/stats"
)

type tagStream struct {
	mu     sync.Mutex // guards anchor; ring has its own finer lock
	ring   *ring
	anchor anchor
	stats  stats.StreamStats

	cursorsMu sync.Mutex
	cursors   []*Cursor
}

// Buffer is the process-wide timeshift store. Many writers (receivers, the
// plugin inject path), many readers (one Cursor per active SIP), one
// sweeper goroutine (§4.2 "Concurrency").
type Buffer struct {
	cfg    config.Timeshift
	logger *slog.Logger

	mapMu sync.RWMutex // coarse lock: guards add/remove of tags from streams
	streams map[frame.Tag]*tagStream

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Buffer with the given engine-wide timeshift thresholds.
func New(cfg config.Timeshift, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Buffer{
		cfg:     cfg,
		logger:  logger,
		streams: make(map[frame.Tag]*tagStream),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	return b
}

// StartSweeper launches the background eviction sweep (§4.2 "Eviction").
// Stop via Close.
func (b *Buffer) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopCh:
				return
			case now := <-ticker.C:
				b.sweep(monotonicSince(now))
			}
		}
	}()
}

func (b *Buffer) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

// epochStart anchors the engine's monotonic clock; wall-clock is used only
// for reporting (§5 "Clock").
var epochStart = time.Now()

func monotonicSince(t time.Time) time.Duration {
	return t.Sub(epochStart)
}

// Now returns the engine's current monotonic position.
func Now() time.Duration {
	return monotonicSince(time.Now())
}

func (b *Buffer) getOrCreate(tag frame.Tag) *tagStream {
	b.mapMu.RLock()
	ts, ok := b.streams[tag]
	b.mapMu.RUnlock()
	if ok {
		return ts
	}
	b.mapMu.Lock()
	defer b.mapMu.Unlock()
	if ts, ok := b.streams[tag]; ok {
		return ts
	}
	ts = &tagStream{ring: newRing()}
	b.streams[tag] = ts
	return ts
}

// Write hands a freshly-arrived PCM frame to the timeshift, taking
// ownership of it (§3). It computes the scheduled playout via the tag's
// anchor, arming the anchor on first sight and re-arming or resetting it on
// discontinuities (§4.2).
func (b *Buffer) Write(f frame.PCM) {
	ts := b.getOrCreate(f.SourceTag)

	ts.mu.Lock()
	lastArrival, hadLast := ts.ring.lastArrivalInstant()
	gap := f.ArrivalInstant - lastArrival

	switch {
	case !hadLast:
		ts.anchor.arm(f.ArrivalInstant, f.ArrivalInstant+b.cfg.TargetBufferLevel)
	case gap >= b.cfg.RTPSessionReset:
		// Large arrival jump: reset anchor and all cursors (§4.2).
		ts.anchor.arm(f.ArrivalInstant, f.ArrivalInstant+b.cfg.TargetBufferLevel)
		epoch := ts.ring.resetEpoch()
		b.logger.Warn("timeshift session reset", "tag", f.SourceTag, "gap", gap, "epoch", epoch)
	case gap >= b.cfg.RTPContinuitySlack:
		// Moderate gap: re-arm the anchor but let cursors keep their
		// relative positions (§4.2).
		ts.anchor.arm(f.ArrivalInstant, ts.anchor.scheduledPlayout(f.ArrivalInstant))
	default:
		scheduled := ts.anchor.scheduledPlayout(f.ArrivalInstant)
		errDuration := scheduled - f.ArrivalInstant
		if abs(errDuration) > b.cfg.TargetBufferLevel/4 {
			ts.anchor.nudge(-errDuration, b.cfg.AnchorNudgeFraction)
		}
	}

	deadline := ts.anchor.scheduledPlayout(f.ArrivalInstant)
	ts.ring.append(f, deadline)
	ts.stats.CumulativeAdjustment.Store(int64(ts.anchor.cumulativeAdjustment / time.Millisecond))
	ts.mu.Unlock()
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// NewCursor creates a read cursor for a SIP subscribing to tag, starting at
// the live edge (new SIPs don't replay history they weren't attached for).
func (b *Buffer) NewCursor(tag frame.Tag, timeshiftOffset, delay time.Duration) *Cursor {
	ts := b.getOrCreate(tag)
	_, tail := ts.ring.bounds()
	c := &Cursor{
		tag:               tag,
		ring:              ts.ring,
		targetBufferLevel: b.cfg.TargetBufferLevel,
		stats:             &ts.stats,
	}
	c.nextSeq.Store(tail)
	c.epoch.Store(ts.ring.currentEpoch())
	c.SetParams(timeshiftOffset, delay)

	ts.cursorsMu.Lock()
	ts.cursors = append(ts.cursors, c)
	ts.cursorsMu.Unlock()
	return c
}

// ReleaseCursor drops a SIP's cursor once it is torn down, so the sweeper
// stops tracking it for catch-up (applier step 4).
func (b *Buffer) ReleaseCursor(tag frame.Tag, c *Cursor) {
	b.mapMu.RLock()
	ts, ok := b.streams[tag]
	b.mapMu.RUnlock()
	if !ok {
		return
	}
	ts.cursorsMu.Lock()
	for i, existing := range ts.cursors {
		if existing == c {
			ts.cursors = append(ts.cursors[:i], ts.cursors[i+1:]...)
			break
		}
	}
	ts.cursorsMu.Unlock()
}

// ReleaseTag drops a tag's stream entirely once no SIP references it
// anymore (§3 lifecycle, applier step 4). Outstanding cursors on a released
// tag will simply see "not present" on their next read.
func (b *Buffer) ReleaseTag(tag frame.Tag) {
	b.mapMu.Lock()
	delete(b.streams, tag)
	b.mapMu.Unlock()
}

func (b *Buffer) sweep(now time.Duration) {
	b.mapMu.RLock()
	tags := make([]frame.Tag, 0, len(b.streams))
	byTag := make(map[frame.Tag]*tagStream, len(b.streams))
	for tag, ts := range b.streams {
		tags = append(tags, tag)
		byTag[tag] = ts
	}
	b.mapMu.RUnlock()

	cutoff := now - b.cfg.Window
	for _, tag := range tags {
		ts := byTag[tag]
		if n := ts.ring.evictOlderThan(cutoff); n > 0 {
			b.logger.Debug("timeshift evicted", "tag", tag, "count", n)
		}

		ts.cursorsMu.Lock()
		cursors := append([]*Cursor(nil), ts.cursors...)
		ts.cursorsMu.Unlock()
		for _, c := range cursors {
			if skipped := c.CatchUp(now, b.cfg.MaxCatchupLag, b.cfg.TargetBufferLevel); skipped > 0 {
				b.logger.Debug("timeshift cursor catch-up", "tag", tag, "skipped", skipped)
			}
		}
	}
}

// Export returns up to the last `seconds` worth of PCM for tag, oldest
// first, clamped to [0, configured window] (§4.2 "Export",
// SPEC_FULL §C.4). Used by diagnostics, not by the audio path.
func (b *Buffer) Export(tag frame.Tag, seconds time.Duration) []frame.PCM {
	if seconds < 0 {
		seconds = 0
	}
	if seconds > b.cfg.Window {
		seconds = b.cfg.Window
	}
	b.mapMu.RLock()
	ts, ok := b.streams[tag]
	b.mapMu.RUnlock()
	if !ok {
		return nil
	}
	cutoff := Now() - seconds
	return ts.ring.since(cutoff)
}

// Stats returns the counter block for tag, or nil if the tag has never been
// written to.
func (b *Buffer) Stats(tag frame.Tag) *stats.StreamStats {
	b.mapMu.RLock()
	ts, ok := b.streams[tag]
	b.mapMu.RUnlock()
	if !ok {
		return nil
	}
	return &ts.stats
}

// Tags returns every tag currently tracked, for the per-tag stats surface
// and the applier's release of unreferenced tags.
func (b *Buffer) Tags() []frame.Tag {
	b.mapMu.RLock()
	defer b.mapMu.RUnlock()
	out := make([]frame.Tag, 0, len(b.streams))
	for t := range b.streams {
		out = append(out, t)
	}
	return out
}

// Package stats holds the per-component counters exposed to the
// operator-facing surfaces in §6 and enumerated in §4.7: jitter, packet
// rate, buffer fill, target buffer level, cumulative anchor adjustment,
// underruns, discards, rate corrections, last-chunk dwell, and send gap.
//
// Every counter is an atomic field read without locking, following the
// hot-path-never-blocks-on-reporting rule in §5.
package stats

import (
	"sync/atomic"
	"time"
)

// StreamStats is the per-(source_tag) or per-(source_tag,sink_id) counter
// block. Timeshift, receivers, and SIPs each hold one per tag/path they own.
type StreamStats struct {
	PacketsTotal   atomic.Uint64
	PacketsDropped atomic.Uint64
	BytesTotal     atomic.Uint64

	JitterMicros        atomic.Uint64 // coarse EWMA of inter-arrival jitter, in microseconds
	BufferFillMillis     atomic.Uint64 // fixed-point, milliseconds
	TargetBufferMillis   atomic.Uint64 // milliseconds
	CumulativeAdjustment atomic.Int64  // milliseconds, signed (anchor nudges can go either way)

	Underruns       atomic.Uint64
	Discards        atomic.Uint64
	RateCorrections atomic.Uint64
	LaggingSkips    atomic.Uint64

	LastChunkDwellMicros atomic.Uint64
	SendGapMicros        atomic.Uint64

	LastPacketAt atomic.Int64 // unix nanos, wall clock, reporting only per §5
}

func (s *StreamStats) NotePacket(n int) {
	s.PacketsTotal.Add(1)
	s.BytesTotal.Add(uint64(n))
	s.LastPacketAt.Store(time.Now().UnixNano())
}

func (s *StreamStats) NoteDrop()       { s.PacketsDropped.Add(1) }
func (s *StreamStats) NoteUnderrun()   { s.Underruns.Add(1) }
func (s *StreamStats) NoteDiscard()    { s.Discards.Add(1) }
func (s *StreamStats) NoteRateCorrect() { s.RateCorrections.Add(1) }
func (s *StreamStats) NoteLagSkip()    { s.LaggingSkips.Add(1) }

// Snapshot is an immutable read of a StreamStats block, returned by the
// get_audio_engine_stats surface (§6, SPEC_FULL §C.1).
type Snapshot struct {
	PacketsTotal, PacketsDropped, BytesTotal uint64
	JitterMicros                             uint64
	BufferFillMillis, TargetBufferMillis     uint64
	CumulativeAdjustmentMillis               int64
	Underruns, Discards, RateCorrections     uint64
	LaggingSkips                             uint64
	LastChunkDwellMicros, SendGapMicros      uint64
	LastPacketAt                             time.Time
}

func (s *StreamStats) Snapshot() Snapshot {
	return Snapshot{
		PacketsTotal:                s.PacketsTotal.Load(),
		PacketsDropped:              s.PacketsDropped.Load(),
		BytesTotal:                  s.BytesTotal.Load(),
		JitterMicros:                s.JitterMicros.Load(),
		BufferFillMillis:            s.BufferFillMillis.Load(),
		TargetBufferMillis:          s.TargetBufferMillis.Load(),
		CumulativeAdjustmentMillis:  s.CumulativeAdjustment.Load(),
		Underruns:                   s.Underruns.Load(),
		Discards:                    s.Discards.Load(),
		RateCorrections:             s.RateCorrections.Load(),
		LaggingSkips:                s.LaggingSkips.Load(),
		LastChunkDwellMicros:        s.LastChunkDwellMicros.Load(),
		SendGapMicros:               s.SendGapMicros.Load(),
		LastPacketAt:                time.Unix(0, s.LastPacketAt.Load()),
	}
}

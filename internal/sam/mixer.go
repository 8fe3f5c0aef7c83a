package sam

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/stats"
)

// SinkParams is the sink-level gain/EQ/delay a Mixer applies after summing
// its lanes (§4.4 "apply sink gain/EQ/delay"). Reuses the SIP's per-sample
// DSP primitives since the processing shape is identical, just applied
// post-mix instead of per-path.
type SinkParams struct {
	GainLinear float64
	EQGains    sip.EQGains
	DelayMillis float64
}

// Mixer is one Sink Audio Mixer instance: it barriers chunks from its
// lanes on a fixed tick, sums with saturation clamp, applies sink DSP, and
// fans the result out to the sink's encoder subscribers (§4.4).
type Mixer struct {
	sinkID string
	format frame.Format
	chunkSamples int
	tickInterval time.Duration

	holdTimeout time.Duration

	lanesMu sync.RWMutex
	lanes   map[string]*Lane // keyed by source path id

	outputsMu sync.Mutex
	outputs   []*Lane

	gain  *sip.VolumeControl
	eq    *sip.Equalizer
	delay *sip.DelayLine

	stats  *stats.StreamStats
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewMixer builds a Mixer for sinkID producing format/chunkSamples audio.
func NewMixer(sinkID string, format frame.Format, chunkSamples int, cfg config.SAM, params SinkParams, logger *slog.Logger) *Mixer {
	if logger == nil {
		logger = slog.Default()
	}
	sr := float64(format.SampleRate)
	tick := time.Duration(chunkSamples) * time.Second / time.Duration(format.SampleRate)
	return &Mixer{
		sinkID:       sinkID,
		format:       format,
		chunkSamples: chunkSamples,
		tickInterval: tick,
		holdTimeout:  cfg.UnderrunHoldTimeout,
		lanes:        make(map[string]*Lane),
		gain:         sip.NewVolumeControl(params.GainLinear, 0.02),
		eq:           sip.NewEqualizer(sr, format.Channels, params.EQGains, false),
		delay:        sip.NewDelayLine(sr, format.Channels, params.DelayMillis),
		stats:        &stats.StreamStats{},
		logger:       logger,
	}
}

// AddLane registers a new input lane for pathID (one per SIP feeding this
// sink), bounded by the smaller of max_queued_chunks and
// max_ready_chunks_per_source (§4.4 "Ready-queue policy").
func (m *Mixer) AddLane(pathID string, cfg config.SAM) *Lane {
	queueCap := cfg.MaxQueuedChunks
	if cfg.MaxReadyChunksPerSource > 0 && cfg.MaxReadyChunksPerSource < queueCap {
		queueCap = cfg.MaxReadyChunksPerSource
	}
	l := NewLane(queueCap, &stats.StreamStats{})
	m.lanesMu.Lock()
	m.lanes[pathID] = l
	m.lanesMu.Unlock()
	return l
}

// RemoveLane drops a lane whose SIP has been released (applier step 4).
func (m *Mixer) RemoveLane(pathID string) {
	m.lanesMu.Lock()
	delete(m.lanes, pathID)
	m.lanesMu.Unlock()
}

// Subscribe adds an encoder-facing output lane that receives every mixed
// chunk this sink produces.
func (m *Mixer) Subscribe(maxQueue int) *Lane {
	l := NewLane(maxQueue, nil)
	m.outputsMu.Lock()
	m.outputs = append(m.outputs, l)
	m.outputsMu.Unlock()
	return l
}

// Unsubscribe removes a previously-subscribed output lane.
func (m *Mixer) Unsubscribe(l *Lane) {
	m.outputsMu.Lock()
	defer m.outputsMu.Unlock()
	for i, existing := range m.outputs {
		if existing == l {
			m.outputs = append(m.outputs[:i], m.outputs[i+1:]...)
			return
		}
	}
}

// SetSinkParams applies new sink-level gain/EQ/delay, taking effect
// immediately (the mixer has no upstream chunk boundary of its own to wait
// for — it IS the chunk boundary).
func (m *Mixer) SetSinkParams(p SinkParams) {
	m.gain.SetTarget(p.GainLinear)
	m.eq.SetGains(p.EQGains, false)
	m.delay.Resize(float64(m.format.SampleRate), m.format.Channels, p.DelayMillis)
}

// Run starts the mixer's own tick goroutine; stops when ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

// Wait blocks until the mixer's tick goroutine has exited after ctx
// cancellation.
func (m *Mixer) Wait() { m.wg.Wait() }

// TickOnce runs a single mix tick synchronously. Used directly by a
// SyncGroup conductor for sinks enrolled in a synchronization group,
// instead of the mixer's own independent ticker (§4.4 "Multi-sink
// synchronization").
func (m *Mixer) TickOnce() { m.tick() }

func (m *Mixer) tick() {
	deadline := time.Now().Add(m.holdTimeout)

	m.lanesMu.RLock()
	lanes := make(map[string]*Lane, len(m.lanes))
	for id, l := range m.lanes {
		lanes[id] = l
	}
	m.lanesMu.RUnlock()

	n := m.chunkSamples * m.format.Channels
	sum := make([]float64, n)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for id, lane := range lanes {
		wg.Add(1)
		go func(id string, lane *Lane) {
			defer wg.Done()
			c, ok := lane.WaitPop(deadline)
			if !ok {
				if m.stats != nil {
					m.stats.NoteUnderrun()
				}
				m.logger.Debug("sam lane silent this tick", "sink", m.sinkID, "path", id)
				return
			}
			if c.Silence {
				return
			}
			mu.Lock()
			for i := 0; i < n && i < len(c.Samples); i++ {
				sum[i] += c.Samples[i]
			}
			mu.Unlock()
		}(id, lane)
	}
	wg.Wait()

	// Saturation clamp at the sink's representable range (§4.4 "Sum lanes
	// with saturation clamp at the sink's bit depth").
	for i, v := range sum {
		if v > 1 {
			sum[i] = 1
		} else if v < -1 {
			sum[i] = -1
		}
	}

	m.eq.Process(sum)
	m.delay.Process(sum)
	m.gain.Process(sum)

	out := sip.Chunk{Format: m.format, Samples: sum}
	if m.stats != nil {
		m.stats.NotePacket(len(sum) * m.format.BitDepth.Bytes())
	}

	m.outputsMu.Lock()
	outputs := append([]*Lane(nil), m.outputs...)
	m.outputsMu.Unlock()
	for _, o := range outputs {
		o.Push(out)
	}
}

// Stats returns the mixer's own counter block (distinct from any one
// lane's), for the operator-facing stats surface (§4.7).
func (m *Mixer) Stats() *stats.StreamStats { return m.stats }

// Format returns the sink's mix format, for subscribers (e.g. the WebRTC
// encoder) that need to know the rate/channel layout they're resampling
// from.
func (m *Mixer) Format() frame.Format { return m.format }

// TickInterval returns the mix-tick cadence this mixer's own Run ticker
// would use, for a SyncGroup conductor that drives it instead (§4.4).
func (m *Mixer) TickInterval() time.Duration { return m.tickInterval }

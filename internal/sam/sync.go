package sam

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/sip"
)

// member is one sink enrolled in a synchronization group: its mixer, plus
// the SIPs feeding it whose resample ratio the group can bias to correct
// drift (§4.4 "per-member rate-skew is signalled back to each member's
// SIPs as a small resample-ratio bias").
type member struct {
	mixer *Mixer
	sips  []*sip.SIP
	trim  float64 // smoothed rate trim currently applied to this member's SIPs
}

// SyncGroup coordinates the mix ticks of several sinks with a soft
// barrier, instead of each sink's Mixer running its own independent ticker
// (§4.4 "Multi-sink synchronization (optional)").
type SyncGroup struct {
	tickInterval time.Duration
	barrierWait  time.Duration
	smoothing    float64
	maxAdjust    float64

	mu      sync.Mutex
	members map[string]*member

	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewSyncGroup builds an empty sync group with a shared tick cadence.
func NewSyncGroup(tickInterval time.Duration, cfg config.SAM, logger *slog.Logger) *SyncGroup {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncGroup{
		tickInterval: tickInterval,
		barrierWait:  cfg.BarrierTimeout,
		smoothing:    cfg.SyncSmoothingFactor,
		maxAdjust:    0, // per-member cap comes from each SIP's own Params.MaxRateAdjustment
		members:      make(map[string]*member),
		logger:       logger,
	}
}

// Join enrolls a sink's mixer and its feeding SIPs into the group. A mixer
// already running its own Run(ctx) ticker should not also be joined; the
// group becomes the sole driver of its tick once joined.
func (g *SyncGroup) Join(sinkID string, mixer *Mixer, sips []*sip.SIP) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[sinkID] = &member{mixer: mixer, sips: sips}
}

// Leave removes a sink from the group; the caller is responsible for
// starting an independent Mixer.Run ticker for it afterward if it should
// keep producing audio.
func (g *SyncGroup) Leave(sinkID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, sinkID)
}

// Run starts the group's conductor goroutine; stops when ctx is cancelled.
func (g *SyncGroup) Run(ctx context.Context) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.barrierTick()
			}
		}
	}()
}

func (g *SyncGroup) Wait() { g.wg.Wait() }

// barrierTick runs one coordinated tick: every member's mixer ticks
// concurrently; the conductor waits up to barrier_timeout for all of them,
// then proceeds regardless ("members that miss the barrier proceed on
// their local clock and re-enter on the next tick"). Measured per-member
// duration feeds a smoothed, bounded rate-trim correction back to that
// member's SIPs.
func (g *SyncGroup) barrierTick() {
	g.mu.Lock()
	snapshot := make(map[string]*member, len(g.members))
	for id, m := range g.members {
		snapshot[id] = m
	}
	g.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	type result struct {
		id       string
		duration time.Duration
	}
	results := make(chan result, len(snapshot))

	for id, m := range snapshot {
		go func(id string, m *member) {
			start := time.Now()
			m.mixer.TickOnce()
			results <- result{id: id, duration: time.Since(start)}
		}(id, m)
	}

	deadline := time.After(g.barrierWait)
	done := 0
	for done < len(snapshot) {
		select {
		case r := <-results:
			g.applySkew(snapshot[r.id], r.duration)
			done++
		case <-deadline:
			g.logger.Debug("sam sync group barrier timeout", "pending", len(snapshot)-done)
			return
		}
	}
}

// applySkew compares how long a member's tick took against the shared
// cadence and nudges its SIPs' resample trim toward correcting the drift,
// smoothed by sync_smoothing_factor so corrections don't overshoot.
func (g *SyncGroup) applySkew(m *member, dwell time.Duration) {
	if g.tickInterval <= 0 {
		return
	}
	errFraction := float64(dwell-g.tickInterval) / float64(g.tickInterval)
	m.trim += (errFraction - m.trim) * g.smoothing
	for _, s := range m.sips {
		s.SetRateTrim(m.trim)
	}
}

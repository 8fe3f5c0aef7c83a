package sip

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/stats"
	"github.com/patchbay/engine/internal/timeshift"
)

// SIP is one Source Input Processor instance: a source tag enrolled onto
// one sink's path, reading from its shared timeshift.Cursor and emitting
// fixed-size chunks for a SAM lane to pull (§3 "Source path", §4.3).
//
// Stage order matches §4.3 exactly: resample, requantize/dither, channel
// remix, equalize, delay, volume, normalize, DC filter. Config changes take
// effect at the next chunk boundary (params is an atomically-swapped
// pointer, never mutated in place), so a stage never sees half of an old
// and half of a new parameter set mid-chunk.
type SIP struct {
	tag    frame.Tag
	cursor *timeshift.Cursor
	params *ParamsHolder
	logger *slog.Logger

	sourceFormat frame.Format // format of the frames currently arriving from the cursor

	resampler   *Resampler
	requantizer *Requantizer
	eq          *Equalizer
	delay       *DelayLine
	volume      *VolumeControl
	normalize   *Normalizer
	dcFilter    *DCFilter

	carry       []float64 // resampled/processed samples not yet emitted as a full chunk
	unpackBuf   []float64
	stats       *stats.StreamStats
	appliedSig  paramSignature // detects a params swap so stages get rebuilt at a chunk boundary
}

// paramSignature is a cheap fingerprint of the fields that force a stage
// rebuild (format, channel count, delay buffer size) versus those a stage
// can just re-read continuously (gains, matrix).
type paramSignature struct {
	sampleRate frame.SampleRate
	channels   int
	bitDepth   frame.BitDepth
	delayMs    float64
}

// NewSIP builds a SIP for tag reading from cursor, with the given initial
// source format (as currently observed on the tag's stream) and params.
func NewSIP(tag frame.Tag, cursor *timeshift.Cursor, sourceFormat frame.Format, params *ParamsHolder, logger *slog.Logger) *SIP {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SIP{
		tag:          tag,
		cursor:       cursor,
		params:       params,
		logger:       logger,
		sourceFormat: sourceFormat,
		stats:        cursor.Stats(),
	}
	s.rebuildStages(params.Load())
	return s
}

func (s *SIP) rebuildStages(p *Params) {
	target := p.TargetFormat
	s.resampler = NewResampler(float64(s.sourceFormat.SampleRate), float64(target.SampleRate), s.sourceFormat.Channels)
	s.requantizer = NewRequantizer(target.BitDepth, s.sourceFormat.Channels, p.NoiseShapingFactor)
	s.eq = NewEqualizer(float64(target.SampleRate), target.Channels, p.EQGains, p.EQNormalize)
	s.delay = NewDelayLine(float64(target.SampleRate), target.Channels, p.DelayMillis)
	s.volume = NewVolumeControl(p.VolumeGainLinear, p.VolumeSmoothing)
	s.normalize = NewNormalizer(float64(target.SampleRate), p.NormalizeAttackSecs, p.NormalizeDecaySecs, p.NormalizeTargetRMS)
	s.normalize.SetEnabled(p.NormalizeEnabled)
	s.dcFilter = NewDCFilter(float64(target.SampleRate), target.Channels, p.DCFilterCutoffHz)
	s.appliedSig = paramSignature{
		sampleRate: s.sourceFormat.SampleRate,
		channels:   s.sourceFormat.Channels,
		bitDepth:   target.BitDepth,
		delayMs:    p.DelayMillis,
	}
}

// SetSourceFormat updates the observed ingress format (e.g. a sender
// switched sample rate); takes effect at the next chunk boundary along with
// any params swap, matching the resample stage's reconfiguration rule.
func (s *SIP) SetSourceFormat(f frame.Format) {
	s.sourceFormat = f
}

func (s *SIP) maybeReconfigure(p *Params) {
	sig := paramSignature{
		sampleRate: s.sourceFormat.SampleRate,
		channels:   s.sourceFormat.Channels,
		bitDepth:   p.TargetFormat.BitDepth,
		delayMs:    p.DelayMillis,
	}
	if sig == s.appliedSig {
		// Gains, matrix coefficients, and volume target are re-read live by
		// each stage's own setter below; no rebuild needed for those.
		s.eq.SetGains(p.EQGains, p.EQNormalize)
		s.volume.SetTarget(p.VolumeGainLinear)
		s.normalize.SetEnabled(p.NormalizeEnabled)
		return
	}
	s.rebuildStages(p)
	s.carry = nil
	s.logger.Debug("sip reconfigured at chunk boundary", "tag", s.tag)
}

// Pull advances the pipeline and returns exactly one chunk of
// params.TargetFormat audio, ChunkSamples samples per channel. now is the
// engine's monotonic clock, used to decide whether the cursor has data
// ready for this tick.
//
// Pull never blocks and never fails: on starvation (cursor has nothing
// ready, or the resampler has too little history to fill the chunk) it
// returns a silence chunk and notes an underrun, matching the "always
// produce a chunk on schedule" contract the SAM mix tick depends on (§4.3
// "Failure model", §4.4).
func (s *SIP) Pull(now time.Duration, chunkSamples int) Chunk {
	p := s.params.Load()
	s.maybeReconfigure(p)

	target := p.TargetFormat
	needed := chunkSamples * target.Channels

	for len(s.carry) < needed {
		f, ok := s.cursor.Next(now)
		if !ok {
			break
		}
		s.unpackBuf = UnpackFloats(s.unpackBuf, f.Data, s.sourceFormat.BitDepth)
		resampled := s.resampler.Process(s.unpackBuf)
		s.requantizer.Process(resampled)
		remixed := Apply(p.Matrix, resampled, s.sourceFormat.Channels, target.Channels)
		s.carry = append(s.carry, remixed...)
	}

	if len(s.carry) < needed {
		if s.stats != nil {
			s.stats.NoteUnderrun()
		}
		return Chunk{Format: target, Samples: make([]float64, needed), Silence: true}
	}

	out := make([]float64, needed)
	copy(out, s.carry[:needed])
	s.carry = append(s.carry[:0], s.carry[needed:]...)

	s.eq.Process(out)
	s.delay.Process(out)
	s.volume.Process(out)
	s.normalize.Process(out)
	s.dcFilter.Process(out)

	return Chunk{Format: target, Samples: out}
}

// SetRateTrim bounds and applies a resample ratio nudge for multi-sink
// synchronization (§4.4); magnitude is clamped to the live params'
// MaxRateAdjustment.
func (s *SIP) SetRateTrim(trim float64) {
	p := s.params.Load()
	if trim > p.MaxRateAdjustment {
		trim = p.MaxRateAdjustment
	} else if trim < -p.MaxRateAdjustment {
		trim = -p.MaxRateAdjustment
	}
	s.resampler.SetTrim(trim)
	if s.stats != nil && trim != 0 {
		s.stats.NoteRateCorrect()
	}
}

// Tag returns the source tag this SIP is processing.
func (s *SIP) Tag() frame.Tag { return s.tag }

// Run drives the SIP on its own thread (§5 "each SIP run on their own
// thread"), pulling one chunk per tickInterval and handing it to push. push
// is the SAM lane's Push, injected by the caller rather than imported
// directly, since sam already imports sip and a direct import back would
// cycle.
func (s *SIP) Run(ctx context.Context, wg *sync.WaitGroup, chunkSamples int, tickInterval time.Duration, push func(Chunk)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				push(s.Pull(timeshift.Now(), chunkSamples))
			}
		}
	}()
}

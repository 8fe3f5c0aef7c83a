// Package config loads the engine's own static tuning knobs (timeshift
// window, thresholds, EQ band centers, chunk size, latency bounds). It does
// not carry the "desired state" graph the applier consumes — that is handed
// in by the external configuration store as a Go struct (§6, SPEC_FULL §A).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeshiftWindow     = 300 * time.Second
	defaultMaxCatchupLag       = 2 * time.Second
	defaultRTPSessionReset     = 5 * time.Second
	defaultRTPContinuitySlack  = 250 * time.Millisecond
	defaultAnchorNudgeFraction = 0.1

	defaultChunkSamples = 1152

	defaultUnderrunHoldTimeout  = 40 * time.Millisecond
	defaultMaxReadyChunks       = 8
	defaultMaxQueuedChunks      = 64
	defaultBarrierTimeout       = 15 * time.Millisecond
	defaultSyncSmoothingFactor  = 0.05
	defaultMaxRateAdjustment    = 0.002 // +/- 0.2%

	defaultVolumeSmoothingFactor = 0.01
	defaultNormAttackMillis      = 5
	defaultNormDecayMillis       = 300
	defaultDCFilterCutoffHz      = 10.0

	defaultLatencyMinMillis = 20
	defaultLatencyMaxMillis = 200

	defaultMP3KBPS = 192
)

// Engine holds every tunable threshold named across §4 that is not part of
// the per-sink/per-path desired state.
type Engine struct {
	Timeshift   Timeshift   `yaml:"timeshift"`
	SIP         SIP         `yaml:"sip"`
	SAM         SAM         `yaml:"sam"`
	SystemAudio SystemAudio `yaml:"system_audio"`
	MP3         MP3         `yaml:"mp3"`
	WebRTC      WebRTC      `yaml:"webrtc"`
}

type Timeshift struct {
	Window              time.Duration `yaml:"window"`
	MaxCatchupLag        time.Duration `yaml:"max_catchup_lag"`
	RTPSessionReset       time.Duration `yaml:"rtp_session_reset_threshold"`
	RTPContinuitySlack    time.Duration `yaml:"rtp_continuity_slack"`
	AnchorNudgeFraction   float64       `yaml:"anchor_nudge_fraction"`
	TargetBufferLevel     time.Duration `yaml:"target_buffer_level"`
}

type SIP struct {
	ChunkSamples          int           `yaml:"chunk_samples"`
	MaxRateAdjustment     float64       `yaml:"max_rate_adjustment"`
	VolumeSmoothingFactor float64       `yaml:"volume_smoothing_factor"`
	NormAttack            time.Duration `yaml:"norm_attack"`
	NormDecay             time.Duration `yaml:"norm_decay"`
	DCFilterCutoffHz      float64       `yaml:"dc_filter_cutoff_hz"`
}

type SAM struct {
	UnderrunHoldTimeout    time.Duration `yaml:"underrun_hold_timeout"`
	MaxReadyChunksPerSource int          `yaml:"max_ready_chunks_per_source"`
	MaxQueuedChunks        int           `yaml:"max_queued_chunks"`
	BarrierTimeout         time.Duration `yaml:"barrier_timeout_ms"`
	SyncSmoothingFactor    float64       `yaml:"sync_smoothing_factor"`
}

type SystemAudio struct {
	LatencyMinMillis int `yaml:"latency_min_ms"`
	LatencyMaxMillis int `yaml:"latency_max_ms"`
}

type MP3 struct {
	KBPS        int    `yaml:"kbps"`
	VBR         bool   `yaml:"vbr"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	RingChunks  int    `yaml:"ring_chunks"`
}

type WebRTC struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	OfferTimeout     time.Duration `yaml:"offer_timeout"`
}

// Default returns the built-in defaults, matching the constants §4 names
// throughout (underrun_hold_timeout, max_catchup_lag, etc).
func Default() Engine {
	return Engine{
		Timeshift: Timeshift{
			Window:              defaultTimeshiftWindow,
			MaxCatchupLag:       defaultMaxCatchupLag,
			RTPSessionReset:     defaultRTPSessionReset,
			RTPContinuitySlack:  defaultRTPContinuitySlack,
			AnchorNudgeFraction: defaultAnchorNudgeFraction,
			TargetBufferLevel:   100 * time.Millisecond,
		},
		SIP: SIP{
			ChunkSamples:          defaultChunkSamples,
			MaxRateAdjustment:     defaultMaxRateAdjustment,
			VolumeSmoothingFactor: defaultVolumeSmoothingFactor,
			NormAttack:            defaultNormAttackMillis * time.Millisecond,
			NormDecay:             defaultNormDecayMillis * time.Millisecond,
			DCFilterCutoffHz:      defaultDCFilterCutoffHz,
		},
		SAM: SAM{
			UnderrunHoldTimeout:     defaultUnderrunHoldTimeout,
			MaxReadyChunksPerSource: defaultMaxReadyChunks,
			MaxQueuedChunks:         defaultMaxQueuedChunks,
			BarrierTimeout:          defaultBarrierTimeout,
			SyncSmoothingFactor:     defaultSyncSmoothingFactor,
		},
		SystemAudio: SystemAudio{
			LatencyMinMillis: defaultLatencyMinMillis,
			LatencyMaxMillis: defaultLatencyMaxMillis,
		},
		MP3: MP3{
			KBPS:       defaultMP3KBPS,
			FFmpegPath: "ffmpeg",
			RingChunks: 256,
		},
		WebRTC: WebRTC{
			HeartbeatTimeout: 15 * time.Second,
			OfferTimeout:     10 * time.Second,
		},
	}
}

// Load reads an Engine config from a YAML file, falling back to Default()
// for any field left unset (zero) in the file, mirroring bridge/config.go's
// "start from defaults, override from YAML" shape.
func Load(path string) (Engine, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Engine{}, fmt.Errorf("read engine config: %w", err)
	}
	var override Engine
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Engine{}, fmt.Errorf("parse engine config: %w", err)
	}
	mergeEngine(&cfg, override)
	return cfg, nil
}

func mergeEngine(dst *Engine, src Engine) {
	if src.Timeshift.Window > 0 {
		dst.Timeshift.Window = src.Timeshift.Window
	}
	if src.Timeshift.MaxCatchupLag > 0 {
		dst.Timeshift.MaxCatchupLag = src.Timeshift.MaxCatchupLag
	}
	if src.Timeshift.RTPSessionReset > 0 {
		dst.Timeshift.RTPSessionReset = src.Timeshift.RTPSessionReset
	}
	if src.Timeshift.RTPContinuitySlack > 0 {
		dst.Timeshift.RTPContinuitySlack = src.Timeshift.RTPContinuitySlack
	}
	if src.Timeshift.AnchorNudgeFraction > 0 {
		dst.Timeshift.AnchorNudgeFraction = src.Timeshift.AnchorNudgeFraction
	}
	if src.Timeshift.TargetBufferLevel > 0 {
		dst.Timeshift.TargetBufferLevel = src.Timeshift.TargetBufferLevel
	}
	if src.SIP.ChunkSamples > 0 {
		dst.SIP.ChunkSamples = src.SIP.ChunkSamples
	}
	if src.SIP.MaxRateAdjustment > 0 {
		dst.SIP.MaxRateAdjustment = src.SIP.MaxRateAdjustment
	}
	if src.SIP.VolumeSmoothingFactor > 0 {
		dst.SIP.VolumeSmoothingFactor = src.SIP.VolumeSmoothingFactor
	}
	if src.SIP.NormAttack > 0 {
		dst.SIP.NormAttack = src.SIP.NormAttack
	}
	if src.SIP.NormDecay > 0 {
		dst.SIP.NormDecay = src.SIP.NormDecay
	}
	if src.SIP.DCFilterCutoffHz > 0 {
		dst.SIP.DCFilterCutoffHz = src.SIP.DCFilterCutoffHz
	}
	if src.SAM.UnderrunHoldTimeout > 0 {
		dst.SAM.UnderrunHoldTimeout = src.SAM.UnderrunHoldTimeout
	}
	if src.SAM.MaxReadyChunksPerSource > 0 {
		dst.SAM.MaxReadyChunksPerSource = src.SAM.MaxReadyChunksPerSource
	}
	if src.SAM.MaxQueuedChunks > 0 {
		dst.SAM.MaxQueuedChunks = src.SAM.MaxQueuedChunks
	}
	if src.SAM.BarrierTimeout > 0 {
		dst.SAM.BarrierTimeout = src.SAM.BarrierTimeout
	}
	if src.SAM.SyncSmoothingFactor > 0 {
		dst.SAM.SyncSmoothingFactor = src.SAM.SyncSmoothingFactor
	}
	if src.SystemAudio.LatencyMinMillis > 0 {
		dst.SystemAudio.LatencyMinMillis = src.SystemAudio.LatencyMinMillis
	}
	if src.SystemAudio.LatencyMaxMillis > 0 {
		dst.SystemAudio.LatencyMaxMillis = src.SystemAudio.LatencyMaxMillis
	}
	if src.MP3.KBPS > 0 {
		dst.MP3.KBPS = src.MP3.KBPS
	}
	if src.MP3.VBR {
		dst.MP3.VBR = true
	}
	if src.MP3.FFmpegPath != "" {
		dst.MP3.FFmpegPath = src.MP3.FFmpegPath
	}
	if src.MP3.RingChunks > 0 {
		dst.MP3.RingChunks = src.MP3.RingChunks
	}
	if src.WebRTC.HeartbeatTimeout > 0 {
		dst.WebRTC.HeartbeatTimeout = src.WebRTC.HeartbeatTimeout
	}
	if src.WebRTC.OfferTimeout > 0 {
		dst.WebRTC.OfferTimeout = src.WebRTC.OfferTimeout
	}
}

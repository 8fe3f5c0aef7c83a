// Package applier implements the declarative configuration applier (§4.6):
// it diffs a desired graph against the live one and performs the minimal
// set of create/update/release steps, never tearing down an unaffected
// path, sink, or listener.
package applier

import (
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sip"
)

// Protocol is the sink's wire/device variant (§4.5, §9 "closed variant
// set").
type Protocol int

const (
	ProtocolScream Protocol = iota
	ProtocolRTP
	ProtocolSystemAudio
	ProtocolWebReceiver
)

// LayoutEntry is one entry of a `input_channel_count -> {auto, matrix}` map
// (§4.6 "Speaker-layout composition"). Auto means "let composition resolve
// this to identity, or to a default downmix/upmix at a physical sink".
type LayoutEntry struct {
	Auto   bool
	Matrix sip.Matrix
}

// DeviceMapping is one entry of a multi-device sink's ordered receiver list
// (§4.6 "Multi-device RTP").
type DeviceMapping struct {
	ReceiverSinkName string
	LeftChannel      int
	RightChannel     int
}

// AppliedSinkParams is the desired state of one sink (§6 "Applier API").
type AppliedSinkParams struct {
	SinkID   string
	Protocol Protocol

	OutputAddr    string // ip:port for scream/rtp; unused for system_audio, which opens the default output device
	RTPSSRC       uint32
	RTPPayload    int
	OutputFormat  frame.Format

	GainLinear  float64
	EQGains     sip.EQGains
	DelayMillis float64

	TimeshiftSec float64

	MP3Enabled bool

	// TimeSyncEnabled and TimeSyncGroup implement §3's "time-sync
	// enable/offset": sinks sharing a non-empty group are enrolled in the
	// same SyncGroup barrier by the engine (§4.4 "Multi-sink
	// synchronization").
	TimeSyncEnabled bool
	TimeSyncGroup   string

	MultiDeviceMode bool
	RTPReceivers    []DeviceMapping

	SpeakerLayouts map[int]LayoutEntry

	PathIDs []string
}

// AppliedSourcePathParams is the desired state of one (source_tag, sink_id)
// path (§3 "Source path", §6).
type AppliedSourcePathParams struct {
	PathID       string
	SourceTag    frame.Tag
	TargetSinkID string

	GainLinear          float64
	EQGains             sip.EQGains
	EQNormalize          bool
	VolumeNormalize      bool
	DelayMillis          float64
	TimeshiftSec         float64

	TargetChannels   int
	TargetSampleRate frame.SampleRate

	SourceChannels   int
	SourceSampleRate frame.SampleRate
	SourceBitDepth   frame.BitDepth

	SpeakerLayouts map[int]LayoutEntry
}

// DesiredEngineState is the full graph the applier converges the live
// engine toward (§6 "apply_state(DesiredEngineState)").
type DesiredEngineState struct {
	Sinks       []AppliedSinkParams
	SourcePaths []AppliedSourcePathParams
}

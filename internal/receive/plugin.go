package receive

import (
	"log/slog"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/stats"
	"github.com/patchbay/engine/internal/timeshift"
)

// PluginIngress implements the plugin inject API (§6):
//
//	write_plugin_packet(source_instance_id, pcm_bytes, channels,
//	  sample_rate, bit_depth, chlayout1, chlayout2) -> bool
//
// The engine treats source_instance_id as an opaque tag; no IP-derived
// identity is involved (§4.1).
type PluginIngress struct {
	buffer *timeshift.Buffer
	logger *slog.Logger
	seen   *SeenTags
	stats  stats.StreamStats
}

func NewPluginIngress(buffer *timeshift.Buffer, logger *slog.Logger) *PluginIngress {
	if logger == nil {
		logger = slog.Default()
	}
	return &PluginIngress{
		buffer: buffer,
		logger: logger.With("receiver", "plugin"),
		seen:   NewSeenTags(256),
	}
}

// WritePluginPacket is write_plugin_packet from §6. chlayout1/chlayout2 are
// the two channel-mask bytes, mirroring the Scream wire encoding (§6) so a
// plugin can reuse the same mask tables callers already have.
func (p *PluginIngress) WritePluginPacket(sourceInstanceID string, pcmBytes []byte, channels int, sampleRate frame.SampleRate, bitDepth frame.BitDepth, chlayout1, chlayout2 byte) bool {
	if !sampleRate.Valid() || !bitDepth.Valid() || channels < 1 || channels > 8 {
		p.stats.NoteDrop()
		return false
	}
	tag := frame.Canonicalize(sourceInstanceID)
	if !tag.Valid() {
		p.stats.NoteDrop()
		return false
	}
	mask := frame.ChannelMask(uint16(chlayout1) | uint16(chlayout2)<<8)
	layout, _, known := mask.Layout()
	if !known {
		p.logger.Warn("unknown channel mask, defaulting to stereo", "mask", mask, "tag", tag)
	}

	p.seen.Mark(tag)
	f := frame.PCM{
		SourceTag:      tag,
		ArrivalInstant: timeshift.Now(),
		Format: frame.Format{
			SampleRate: sampleRate,
			BitDepth:   bitDepth,
			Channels:   channels,
			Layout:     layout,
		},
		Data: append([]byte(nil), pcmBytes...),
	}
	p.stats.NotePacket(len(pcmBytes))
	p.buffer.Write(f)
	return true
}

func (p *PluginIngress) Stats() *stats.StreamStats { return &p.stats }

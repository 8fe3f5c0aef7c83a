package receive

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/stats"
	"github.com/patchbay/engine/internal/timeshift"
)

// SAPAnnouncement is the out-of-band format tuple an RTP source's session
// announcement conveys (§6 "RTP": "same logical PCM format fields conveyed
// out-of-band"). The RTP receiver has nowhere to parse SAP packets from
// inside a PCM socket, so callers (the external discovery/control layer)
// feed this in via Announce, and get_rtp_sap_announcements (§6) reads it
// back (SPEC_FULL §C.3).
type SAPAnnouncement struct {
	Format   frame.Format
	SeenAt   time.Time
}

// RTPReceiver owns one UDP socket carrying standard RTP packets whose
// payload is raw PCM; the format is supplied out-of-band rather than parsed
// from a per-packet header (§6). Source tag is derived from the sender IP.
type RTPReceiver struct {
	conn   net.PacketConn
	buffer *timeshift.Buffer
	logger *slog.Logger
	seen   *SeenTags
	stats  stats.StreamStats

	formatMu sync.RWMutex
	formats  map[frame.Tag]SAPAnnouncement

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewRTPReceiver(addr string, buffer *timeshift.Buffer, logger *slog.Logger) (*RTPReceiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPReceiver{
		conn:    conn,
		buffer:  buffer,
		logger:  logger.With("receiver", "rtp", "addr", addr),
		seen:    NewSeenTags(512),
		formats: make(map[frame.Tag]SAPAnnouncement),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Announce records the out-of-band format for tag, as conveyed by a SAP
// announcement or static configuration (§6).
func (r *RTPReceiver) Announce(tag frame.Tag, f frame.Format) {
	r.formatMu.Lock()
	r.formats[tag] = SAPAnnouncement{Format: f, SeenAt: time.Now()}
	r.formatMu.Unlock()
}

// Announcements backs get_rtp_sap_announcements (§6).
func (r *RTPReceiver) Announcements() map[frame.Tag]SAPAnnouncement {
	r.formatMu.RLock()
	defer r.formatMu.RUnlock()
	out := make(map[frame.Tag]SAPAnnouncement, len(r.formats))
	for t, a := range r.formats {
		out[t] = a
	}
	return out
}

func (r *RTPReceiver) Serve() {
	defer close(r.doneCh)
	buf := make([]byte, 65536)
	var pkt rtp.Packet
	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
			}
			r.logger.Warn("socket read error", "error", err)
			continue
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			r.stats.NoteDrop()
			r.logger.Debug("dropped malformed rtp packet", "error", err, "from", addr)
			continue
		}
		r.handlePacket(&pkt, addr)
	}
}

func (r *RTPReceiver) handlePacket(pkt *rtp.Packet, addr net.Addr) {
	tag := tagFromAddr(addr)
	r.seen.Mark(tag)

	r.formatMu.RLock()
	ann, known := r.formats[tag]
	r.formatMu.RUnlock()
	f := ann.Format
	if !known {
		// No out-of-band announcement yet; fall back to a conservative
		// default rather than dropping the packet outright.
		f = frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 2, Layout: frame.LayoutStereo}
	}

	out := frame.PCM{
		SourceTag:      tag,
		ArrivalInstant: timeshift.Now(),
		Format:         f,
		Data:           append([]byte(nil), pkt.Payload...),
	}
	r.stats.NotePacket(len(pkt.Payload) + 12)
	r.buffer.Write(out)
}

func (r *RTPReceiver) SeenTags() map[frame.Tag]time.Time { return r.seen.Snapshot() }
func (r *RTPReceiver) Stats() *stats.StreamStats         { return &r.stats }

func (r *RTPReceiver) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	err := r.conn.Close()
	<-r.doneCh
	return err
}

package receive

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/stats"
	"github.com/patchbay/engine/internal/timeshift"
)

// perProcessLabelLenOffset is the offset of the process label's one-byte
// length prefix, right after the 5-byte Scream wire header (§6 "Per-process
// packet": "header plus a bounded tag string (<=45 bytes) plus PCM payload").
const perProcessLabelLenOffset = 5

// PerProcessReceiver parses per-process Scream packets: the standard 5-byte
// header, then a length-prefixed process label, then PCM. Source tag is the
// label concatenated with the sender IP (§4.1).
type PerProcessReceiver struct {
	conn   net.PacketConn
	buffer *timeshift.Buffer
	logger *slog.Logger
	seen   *SeenTags
	stats  stats.StreamStats

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewPerProcessReceiver(addr string, buffer *timeshift.Buffer, logger *slog.Logger) (*PerProcessReceiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PerProcessReceiver{
		conn:   conn,
		buffer: buffer,
		logger: logger.With("receiver", "per_process", "addr", addr),
		seen:   NewSeenTags(512),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

func (r *PerProcessReceiver) Serve() {
	defer close(r.doneCh)
	buf := make([]byte, 65536)
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
		if err := r.handlePacket(buf[:n], addr); err != nil {
			r.stats.NoteDrop()
			r.logger.Debug("dropped malformed packet", "error", err, "from", addr)
		}
	}
}

func (r *PerProcessReceiver) handlePacket(data []byte, addr net.Addr) error {
	hdr, layout, known, err := frame.DecodeScreamHeader(data)
	if err != nil {
		return err
	}
	if !known {
		r.logger.Warn("unknown channel mask, defaulting to stereo", "mask", hdr.Mask, "from", addr)
	}
	if len(data) <= perProcessLabelLenOffset {
		return fmt.Errorf("per-process packet: missing label length byte")
	}
	labelLen := int(data[perProcessLabelLenOffset])
	labelStart := perProcessLabelLenOffset + 1
	labelEnd := labelStart + labelLen
	if labelLen > frame.MaxTagBytes || labelEnd > len(data) {
		return fmt.Errorf("per-process packet: invalid label length %d", labelLen)
	}
	label := string(data[labelStart:labelEnd])
	payload := data[labelEnd:]

	host := addr.String()
	if h, _, err := net.SplitHostPort(addr.String()); err == nil {
		host = h
	}
	tag := frame.Canonicalize(label + "@" + host)
	r.seen.Mark(tag)

	f := frame.PCM{
		SourceTag:      tag,
		ArrivalInstant: timeshift.Now(),
		Format: frame.Format{
			SampleRate: hdr.SampleRate,
			BitDepth:   hdr.BitDepth,
			Channels:   hdr.Channels,
			Layout:     layout,
		},
		Data: append([]byte(nil), payload...),
	}
	r.stats.NotePacket(len(data))
	r.buffer.Write(f)
	return nil
}

// SeenTags backs get_per_process_scream_receiver_seen_tags(port) (§6). The
// per-process receiver is additionally the one kind spec.md §4.1 calls out
// as advertising its tag list for discovery to propose new sources.
func (r *PerProcessReceiver) SeenTags() map[frame.Tag]time.Time { return r.seen.Snapshot() }
func (r *PerProcessReceiver) Stats() *stats.StreamStats         { return &r.stats }

func (r *PerProcessReceiver) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	err := r.conn.Close()
	<-r.doneCh
	return err
}

package receive

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/stats"
	"github.com/patchbay/engine/internal/timeshift"
)

// ScreamReceiver owns one UDP socket carrying raw Scream packets: a 5-byte
// wire header (§6) followed by interleaved PCM. Source tag is derived from
// the sender's IP (§4.1).
type ScreamReceiver struct {
	conn   net.PacketConn
	buffer *timeshift.Buffer
	logger *slog.Logger
	seen   *SeenTags
	stats  stats.StreamStats

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScreamReceiver binds a UDP socket on addr (e.g. ":4010") and returns a
// receiver ready to Serve.
func NewScreamReceiver(addr string, buffer *timeshift.Buffer, logger *slog.Logger) (*ScreamReceiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScreamReceiver{
		conn:   conn,
		buffer: buffer,
		logger: logger.With("receiver", "scream", "addr", addr),
		seen:   NewSeenTags(512),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Serve reads packets until Close is called. Socket errors are logged and
// the receiver keeps reading (§4.1, §7); it never retries a single
// malformed packet, it just drops and continues.
func (r *ScreamReceiver) Serve() {
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
			continue
		}
	}
}

func (r *ScreamReceiver) handlePacket(data []byte, addr net.Addr) error {
	hdr, layout, known, err := frame.DecodeScreamHeader(data)
	if err != nil {
		return err
	}
	if !known {
		r.logger.Warn("unknown channel mask, defaulting to stereo", "mask", hdr.Mask, "from", addr)
	}

	tag := tagFromAddr(addr)
	r.seen.Mark(tag)

	payload := data[5:]
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

func tagFromAddr(addr net.Addr) frame.Tag {
	host := addr.String()
	if h, _, err := net.SplitHostPort(addr.String()); err == nil {
		host = h
	}
	return frame.Canonicalize(host)
}

func (r *ScreamReceiver) SeenTags() map[frame.Tag]time.Time { return r.seen.Snapshot() }
func (r *ScreamReceiver) Stats() *stats.StreamStats         { return &r.stats }

func (r *ScreamReceiver) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	err := r.conn.Close()
	<-r.doneCh
	return err
}

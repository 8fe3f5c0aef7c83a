package encode

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/zaf/g711"

	"github.com/patchbay/engine/internal/sam"
	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/stats"
)

// NewRTPUDPSender opens a UDP socket connected to addr ("host:port") and
// returns an RTPSender that marshals and writes packets to it, the common
// case for a plain network RTP sink (§6 "RTP").
func NewRTPUDPSender(addr string, lane *sam.Lane, payloadType uint8, kind RTPPayload, clockRate, ssrc uint32, logger *slog.Logger) (*RTPSender, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	write := func(pkt *rtp.Packet) error {
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		_, err = conn.Write(buf)
		return err
	}
	s := NewRTPSender(write, lane, payloadType, kind, clockRate, ssrc, logger)
	s.closer = conn
	return s, nil
}

// RTPPayload selects the wire encoding an RTPSender packs mixed chunks
// into, payload-compatible with the common VoIP codecs (§4.5, teacher
// go.mod dependency github.com/zaf/g711).
type RTPPayload int

const (
	PayloadL16 RTPPayload = iota // linear PCM, big-endian per RFC 3551
	PayloadPCMU
	PayloadPCMA
)

// RTPSender packs mixed chunks into RTP packets and writes them via an
// injected write function (NewRTPUDPSender supplies one backed by a UDP
// socket).
type RTPSender struct {
	write       func(*rtp.Packet) error
	lane        *sam.Lane
	payloadType uint8
	payloadKind RTPPayload
	clockRate   uint32
	ssrc        uint32

	seq       uint16
	timestamp uint32
	closer    io.Closer

	stats  stats.StreamStats
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewRTPSender(write func(*rtp.Packet) error, lane *sam.Lane, payloadType uint8, kind RTPPayload, clockRate, ssrc uint32, logger *slog.Logger) *RTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPSender{
		write:       write,
		lane:        lane,
		payloadType: payloadType,
		payloadKind: kind,
		clockRate:   clockRate,
		ssrc:        ssrc,
		logger:      logger,
	}
}

func (s *RTPSender) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if ctx.Err() != nil {
				return
			}
			c, ok := s.lane.WaitPop(time.Now().Add(50 * time.Millisecond))
			if !ok {
				continue
			}
			s.send(c)
		}
	}()
}

func (s *RTPSender) send(c sip.Chunk) {
	pcm16 := sip.PackBytes(nil, c.Samples, 16)
	var payload []byte
	switch s.payloadKind {
	case PayloadPCMU:
		payload = g711.EncodeUlaw(pcm16)
	case PayloadPCMA:
		payload = g711.EncodeAlaw(pcm16)
	default:
		// PackBytes is little-endian; L16 goes out in network byte order.
		payload = make([]byte, len(pcm16))
		for i := 0; i+1 < len(pcm16); i += 2 {
			payload[i], payload[i+1] = pcm16[i+1], pcm16[i]
		}
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	if err := s.write(pkt); err != nil {
		s.stats.NoteDrop()
		s.logger.Debug("rtp send failed", "err", err)
		return
	}
	s.stats.NotePacket(len(payload))
	s.seq++
	s.timestamp += uint32(len(c.Samples) / max(c.Format.Channels, 1))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *RTPSender) Stats() *stats.StreamStats { return &s.stats }

func (s *RTPSender) Close() {
	s.wg.Wait()
	if s.closer != nil {
		s.closer.Close()
	}
}

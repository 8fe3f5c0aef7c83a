// Package encode implements the protocol/device-facing output side: wire
// encoders that each pull mixed chunks off a sam.Lane and push them out to
// a network socket, audio device, or listener (§3, §4.5, §6).
package encode

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sam"
	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/stats"
)

// ScreamSender re-frames mixed chunks with the 5-byte Scream wire header
// and sends them over UDP to one or more configured receivers, mirroring
// the ingress side's wire format (§6).
type ScreamSender struct {
	conn    *net.UDPConn
	targets []*net.UDPAddr
	lane    *sam.Lane
	stats   stats.StreamStats
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewScreamSender opens a UDP socket for sending (unconnected, so it can
// fan out to several targets) and subscribes lane for mixed chunks.
func NewScreamSender(targets []string, lane *sam.Lane, logger *slog.Logger) (*ScreamSender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	s := &ScreamSender{conn: conn, lane: lane, logger: logger}
	for _, t := range targets {
		addr, err := net.ResolveUDPAddr("udp", t)
		if err != nil {
			conn.Close()
			return nil, err
		}
		s.targets = append(s.targets, addr)
	}
	return s, nil
}

// Run drains the lane and sends one Scream packet per mixed chunk until
// ctx is cancelled.
func (s *ScreamSender) Run(ctx context.Context) {
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

func (s *ScreamSender) send(c sip.Chunk) {
	mask, _ := frame.MaskForLayout(c.Format.Layout)
	var hdr [5]byte
	if _, err := frame.EncodeScreamHeader(hdr[:], frame.ScreamHeader{
		SampleRate: c.Format.SampleRate,
		BitDepth:   c.Format.BitDepth,
		Channels:   c.Format.Channels,
		Mask:       mask,
	}); err != nil {
		s.logger.Warn("scream header encode failed", "err", err)
		return
	}
	payload := sip.PackBytes(nil, c.Samples, c.Format.BitDepth)
	packet := append(append([]byte(nil), hdr[:]...), payload...)
	for _, addr := range s.targets {
		if _, err := s.conn.WriteToUDP(packet, addr); err != nil {
			s.stats.NoteDrop()
			s.logger.Debug("scream send failed", "target", addr, "err", err)
			continue
		}
		s.stats.NotePacket(len(packet))
	}
}

func (s *ScreamSender) Stats() *stats.StreamStats { return &s.stats }

func (s *ScreamSender) Close() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// ScreamDeviceTarget is one resolved entry of a multi-device sink's split
// (§4.6 "Multi-device RTP"): send channels Left/Right of the mixed chunk to
// Addr as their own stereo Scream stream.
type ScreamDeviceTarget struct {
	Addr  string
	Left  int
	Right int
}

type resolvedScreamDeviceTarget struct {
	addr        *net.UDPAddr
	left, right int
}

// ScreamMultiDeviceSender splits a sink's mixed output across several
// Scream receivers by channel pair instead of sending the full mix to one
// target, backing a multi_device_mode sink (§4.6: "the applier resolves
// these to concrete receiver endpoints and channel pairs and configures
// the encoder to split the sink's mixed output accordingly").
type ScreamMultiDeviceSender struct {
	conn    *net.UDPConn
	targets []resolvedScreamDeviceTarget
	lane    *sam.Lane
	stats   stats.StreamStats
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewScreamMultiDeviceSender opens one UDP socket shared by every resolved
// target and subscribes lane for mixed chunks.
func NewScreamMultiDeviceSender(targets []ScreamDeviceTarget, lane *sam.Lane, logger *slog.Logger) (*ScreamMultiDeviceSender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	s := &ScreamMultiDeviceSender{conn: conn, lane: lane, logger: logger}
	for _, t := range targets {
		addr, err := net.ResolveUDPAddr("udp", t.Addr)
		if err != nil {
			conn.Close()
			return nil, err
		}
		s.targets = append(s.targets, resolvedScreamDeviceTarget{addr: addr, left: t.Left, right: t.Right})
	}
	return s, nil
}

// Run drains the lane and sends one split stereo packet per target per
// mixed chunk until ctx is cancelled.
func (s *ScreamMultiDeviceSender) Run(ctx context.Context) {
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

func (s *ScreamMultiDeviceSender) send(c sip.Chunk) {
	if c.Format.Channels <= 0 {
		return
	}
	frames := len(c.Samples) / c.Format.Channels

	stereoMask, _ := frame.MaskForLayout(frame.LayoutStereo)
	var hdr [5]byte
	if _, err := frame.EncodeScreamHeader(hdr[:], frame.ScreamHeader{
		SampleRate: c.Format.SampleRate,
		BitDepth:   c.Format.BitDepth,
		Channels:   2,
		Mask:       stereoMask,
	}); err != nil {
		s.logger.Warn("scream header encode failed", "err", err)
		return
	}

	pair := make([]float64, frames*2)
	for _, t := range s.targets {
		if t.left < 0 || t.right < 0 || t.left >= c.Format.Channels || t.right >= c.Format.Channels {
			// Unresolvable channel index for this chunk's current format;
			// skip this target for this tick rather than reading out of
			// bounds (§9 "skips mappings... neither fails the apply nor
			// invents a placeholder").
			continue
		}
		for f := 0; f < frames; f++ {
			base := f * c.Format.Channels
			pair[f*2] = c.Samples[base+t.left]
			pair[f*2+1] = c.Samples[base+t.right]
		}
		payload := sip.PackBytes(nil, pair, c.Format.BitDepth)
		packet := append(append([]byte(nil), hdr[:]...), payload...)
		if _, err := s.conn.WriteToUDP(packet, t.addr); err != nil {
			s.stats.NoteDrop()
			s.logger.Debug("scream multi-device send failed", "target", t.addr, "err", err)
			continue
		}
		s.stats.NotePacket(len(packet))
	}
}

func (s *ScreamMultiDeviceSender) Stats() *stats.StreamStats { return &s.stats }

func (s *ScreamMultiDeviceSender) Close() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

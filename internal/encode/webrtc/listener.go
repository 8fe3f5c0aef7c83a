package webrtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sam"
	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/stats"
)

// State is the WHEP-style listener connection state (§4, "WebRTC
// listener. One per subscriber").
type State int

const (
	StateNew State = iota
	StateOffered
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffered:
		return "offered"
	case StateConnected:
		return "connected"
	default:
		return "closed"
	}
}

// Config mirrors the engine's webrtc section plus the STUN/TURN servers
// offered to every listener's peer connection.
type Config struct {
	HeartbeatTimeout time.Duration
	OfferTimeout     time.Duration
	ICEServers       []pionwebrtc.ICEServer
}

// Listener is one WebRTC subscriber attached to a sink. It owns a peer
// connection, a local Opus track, and a per-listener lane pulling mixed
// chunks from the sink's Mixer; its own context is derived from
// context.Background rather than a caller-supplied one so that closing the
// call that created it never tears down an established session out from
// under the browser — the listener's lifetime is governed by its own FSM
// and the heartbeat timeout, not by its creator's context.
type Listener struct {
	sinkID     string
	listenerID string
	clientIP   string
	// sessionID is an internal-only ephemeral id distinct from the
	// caller-supplied listenerID, minted fresh per peer connection so a
	// renegotiated stream never reuses a pion MediaStream id the browser
	// may still have cached from a prior connection.
	sessionID string

	mu    sync.Mutex
	state State

	lastHeartbeat time.Time
	cfg           Config

	pc         *pionwebrtc.PeerConnection
	localTrack *pionwebrtc.TrackLocalStaticSample

	lane     *sam.Lane
	resample *sip.Resampler
	opusEnc  *opusFrameEncoder

	sinkFormat frame.Format
	stats      stats.StreamStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger

	onLocalDescription func(sdp string)
	onICECandidate     func(candidate pionwebrtc.ICECandidateInit)
}

// NewListener creates a listener in state "new" and subscribes it to the
// mixer's output. The caller (add_webrtc_listener, §6) supplies the
// negotiation callbacks that forward the local description and trickled
// ICE candidates back to the signaling transport.
func NewListener(sinkID, listenerID, clientIP string, mixer *sam.Mixer, cfg Config, logger *slog.Logger, onLocalDesc func(string), onICE func(pionwebrtc.ICECandidateInit)) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sessionID := uuid.NewString()
	l := &Listener{
		sinkID:              sinkID,
		listenerID:          listenerID,
		clientIP:            clientIP,
		sessionID:           sessionID,
		state:               StateNew,
		lastHeartbeat:       time.Now(),
		cfg:                 cfg,
		lane:                mixer.Subscribe(32),
		sinkFormat:          mixer.Format(),
		ctx:                 ctx,
		cancel:              cancel,
		logger:              logger.With("sink", sinkID, "listener", listenerID, "session", sessionID),
		onLocalDescription:  onLocalDesc,
		onICECandidate:      onICE,
	}
	l.resample = sip.NewResampler(float64(l.sinkFormat.SampleRate), OpusSampleRate, OpusChannels)
	enc, err := newOpusFrameEncoder()
	if err != nil {
		return nil, fmt.Errorf("webrtc listener opus encoder: %w", err)
	}
	l.opusEnc = enc
	return l, nil
}

// HandleOffer negotiates the peer connection against offerSDP and returns
// the local answer SDP, transitioning new -> offered.
func (l *Listener) HandleOffer(offerSDP string) (string, error) {
	l.mu.Lock()
	if l.state != StateNew {
		l.mu.Unlock()
		return "", fmt.Errorf("webrtc listener %s: offer received in state %s", l.listenerID, l.state)
	}
	l.mu.Unlock()

	if err := l.createPeerConnection(); err != nil {
		return "", err
	}

	offer := pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: offerSDP}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := pionwebrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	l.mu.Lock()
	l.state = StateOffered
	l.mu.Unlock()

	local := l.pc.LocalDescription()
	if l.onLocalDescription != nil {
		l.onLocalDescription(local.SDP)
	}

	l.startOfferTimeout()
	return local.SDP, nil
}

func (l *Listener) createPeerConnection() error {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: OpusSampleRate,
			Channels:  OpusChannels,
		},
		PayloadType: 111,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register opus codec: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return fmt.Errorf("register interceptors: %w", err)
	}
	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine), pionwebrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{ICEServers: l.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeOpus, ClockRate: OpusSampleRate, Channels: OpusChannels},
		"audio", "patchbay-"+l.sessionID,
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("new local track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return fmt.Errorf("add track: %w", err)
	}
	l.startRTCPDrain(sender)

	l.mu.Lock()
	l.pc = pc
	l.localTrack = track
	l.mu.Unlock()

	pc.OnICECandidate(func(c *pionwebrtc.ICECandidate) {
		if c == nil || l.onICECandidate == nil {
			return
		}
		l.onICECandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		switch state {
		case pionwebrtc.PeerConnectionStateConnected:
			l.mu.Lock()
			l.state = StateConnected
			l.lastHeartbeat = time.Now()
			l.mu.Unlock()
			l.startStreaming()
			l.startHeartbeatWatch()
		case pionwebrtc.PeerConnectionStateFailed, pionwebrtc.PeerConnectionStateClosed:
			l.Close()
		}
	})

	return nil
}

// startRTCPDrain reads and parses RTCP packets pion buffers for the
// listener's sender (required so the buffer never blocks the track writer;
// see pion's own examples) and tallies receiver-reported loss as drops so
// it shows up alongside the rest of this listener's stats.
func (l *Listener) startRTCPDrain(sender *pionwebrtc.RTPSender) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		buf := make([]byte, 1500)
		for {
			n, _, err := sender.Read(buf)
			if err != nil {
				return
			}
			pkts, err := rtcp.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			for _, p := range pkts {
				if rr, ok := p.(*rtcp.ReceiverReport); ok {
					for _, block := range rr.Reports {
						if block.TotalLost > 0 {
							l.stats.NoteDrop()
						}
					}
				}
			}
		}
	}()
}

// Stats returns the listener's RTCP-derived counters.
func (l *Listener) Stats() *stats.StreamStats { return &l.stats }

// AddRemoteICECandidate feeds a trickled candidate from the signaling
// transport into the peer connection (add_webrtc_remote_ice_candidate, §6).
func (l *Listener) AddRemoteICECandidate(candidate pionwebrtc.ICECandidateInit) error {
	l.mu.Lock()
	pc := l.pc
	l.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("webrtc listener %s: no peer connection yet", l.listenerID)
	}
	return pc.AddICECandidate(candidate)
}

// Heartbeat records a client liveness signal, resetting the 15s timeout
// (§4, "Heartbeats are expected every few seconds").
func (l *Listener) Heartbeat() {
	l.mu.Lock()
	l.lastHeartbeat = time.Now()
	l.mu.Unlock()
}

func (l *Listener) startOfferTimeout() {
	timeout := l.cfg.OfferTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-l.ctx.Done():
		case <-t.C:
			l.mu.Lock()
			stillOffered := l.state == StateOffered
			l.mu.Unlock()
			if stillOffered {
				l.logger.Debug("webrtc listener offer timed out")
				l.Close()
			}
		}
	}()
}

func (l *Listener) startHeartbeatWatch() {
	timeout := l.cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-l.ctx.Done():
				return
			case <-ticker.C:
				l.mu.Lock()
				idle := time.Since(l.lastHeartbeat)
				l.mu.Unlock()
				if idle > timeout {
					l.logger.Debug("webrtc listener heartbeat timeout", "idle", idle)
					l.Close()
					return
				}
			}
		}
	}()
}

// startStreaming begins pulling mixed chunks off the listener's lane,
// resampling to 48kHz stereo, and writing 20ms Opus frames to the track.
func (l *Listener) startStreaming() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		var carry []float64
		frameLen := OpusFrameSamples * OpusChannels
		for {
			if l.ctx.Err() != nil {
				return
			}
			c, ok := l.lane.WaitPop(time.Now().Add(50 * time.Millisecond))
			if !ok {
				continue
			}
			mono := l.toStereo(c.Samples, c.Format.Channels)
			resampled := l.resample.Process(mono)
			carry = append(carry, resampled...)
			for len(carry) >= frameLen {
				opusFrame := carry[:frameLen]
				carry = append([]float64(nil), carry[frameLen:]...)
				packet, err := l.opusEnc.encode(opusFrame)
				if err != nil {
					l.logger.Debug("opus encode failed", "err", err)
					continue
				}
				sample := media.Sample{Data: packet, Duration: OpusFrameMillis * time.Millisecond}
				if err := l.localTrack.WriteSample(sample); err != nil {
					l.logger.Debug("webrtc track write failed", "err", err)
				}
			}
		}
	}()
}

// toStereo copies the first channel of the mix into both stereo channels
// (the other channels of a wider mix are dropped) since the outbound Opus
// track always signals stereo
// (opus/48000/2) per RFC 7587 regardless of the sink's own channel count.
func (l *Listener) toStereo(samples []float64, channels int) []float64 {
	if channels == OpusChannels {
		return samples
	}
	frames := len(samples) / max(channels, 1)
	out := make([]float64, frames*OpusChannels)
	for i := 0; i < frames; i++ {
		v := samples[i*channels]
		out[i*OpusChannels] = v
		out[i*OpusChannels+1] = v
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// State returns the listener's current FSM state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close transitions the listener to closed, stops streaming, and releases
// the peer connection. The output lane that NewListener subscribed on the
// mixer is not unsubscribed here.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	pc := l.pc
	l.mu.Unlock()

	l.cancel()
	if pc != nil {
		pc.Close()
	}
	l.wg.Wait()
}

package engine

import (
	"fmt"
	"sync"

	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/patchbay/engine/internal/config"
	webrtcenc "github.com/patchbay/engine/internal/encode/webrtc"
	"github.com/patchbay/engine/internal/sam"
)

// defaultSTUNServers is used when no ICE server list is otherwise
// configured; config.WebRTC carries only the heartbeat/offer timeouts, so
// the engine supplies a public STUN default here.
var defaultSTUNServers = []pionwebrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// ICECandidateJSON is the engine-facing trickle-ICE candidate shape, kept
// free of pion types so callers of Engine don't need to import pion/webrtc
// (§6 "add_webrtc_remote_ice_candidate").
type ICECandidateJSON struct {
	Candidate        string
	SDPMid           string
	SDPMLineIndex    uint16
	UsernameFragment string
}

func (c ICECandidateJSON) toPion() pionwebrtc.ICECandidateInit {
	mid := c.SDPMid
	idx := c.SDPMLineIndex
	var frag *string
	if c.UsernameFragment != "" {
		frag = &c.UsernameFragment
	}
	return pionwebrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           &mid,
		SDPMLineIndex:    &idx,
		UsernameFragment: frag,
	}
}

func fromPion(c pionwebrtc.ICECandidateInit) ICECandidateJSON {
	out := ICECandidateJSON{Candidate: c.Candidate}
	if c.SDPMid != nil {
		out.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		out.SDPMLineIndex = *c.SDPMLineIndex
	}
	if c.UsernameFragment != nil {
		out.UsernameFragment = *c.UsernameFragment
	}
	return out
}

type listenerKey struct {
	sinkID, listenerID string
}

// ListenerRegistry owns every live WebRTC listener, keyed by (sink_id,
// listener_id), for add_webrtc_listener / add_webrtc_remote_ice_candidate /
// remove_webrtc_listener (§6).
type ListenerRegistry struct {
	cfg webrtcenc.Config

	mu        sync.Mutex
	listeners map[listenerKey]*webrtcenc.Listener
}

func NewListenerRegistry(cfg config.WebRTC) *ListenerRegistry {
	return &ListenerRegistry{
		cfg: webrtcenc.Config{
			HeartbeatTimeout: cfg.HeartbeatTimeout,
			OfferTimeout:     cfg.OfferTimeout,
			ICEServers:       defaultSTUNServers,
		},
		listeners: make(map[listenerKey]*webrtcenc.Listener),
	}
}

// Add creates a listener, subscribes it to the sink's mixer, and feeds it
// the client offer, returning the local SDP answer (add_webrtc_listener,
// §6).
func (r *ListenerRegistry) Add(sinkID, listenerID, clientIP, offerSDP string, mixer *sam.Mixer, onLocalDesc func(string), onICE func(ICECandidateJSON)) (string, error) {
	l, err := webrtcenc.NewListener(sinkID, listenerID, clientIP, mixer, r.cfg, nil,
		onLocalDesc,
		func(c pionwebrtc.ICECandidateInit) { onICE(fromPion(c)) },
	)
	if err != nil {
		return "", fmt.Errorf("new webrtc listener: %w", err)
	}

	key := listenerKey{sinkID, listenerID}
	r.mu.Lock()
	if old, ok := r.listeners[key]; ok {
		old.Close()
	}
	r.listeners[key] = l
	r.mu.Unlock()

	return l.HandleOffer(offerSDP)
}

// AddRemoteICECandidate feeds a trickled client candidate to the matching
// listener (§6).
func (r *ListenerRegistry) AddRemoteICECandidate(sinkID, listenerID string, candidate ICECandidateJSON) error {
	r.mu.Lock()
	l, ok := r.listeners[listenerKey{sinkID, listenerID}]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("add_webrtc_remote_ice_candidate: no listener %s/%s", sinkID, listenerID)
	}
	return l.AddRemoteICECandidate(candidate.toPion())
}

// Remove closes and forgets one listener (remove_webrtc_listener, §6).
func (r *ListenerRegistry) Remove(sinkID, listenerID string) {
	key := listenerKey{sinkID, listenerID}
	r.mu.Lock()
	l, ok := r.listeners[key]
	delete(r.listeners, key)
	r.mu.Unlock()
	if ok {
		l.Close()
	}
}

// CloseAll tears down every live listener, for engine shutdown.
func (r *ListenerRegistry) CloseAll() {
	r.mu.Lock()
	listeners := make([]*webrtcenc.Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.listeners = make(map[listenerKey]*webrtcenc.Listener)
	r.mu.Unlock()
	for _, l := range listeners {
		l.Close()
	}
}

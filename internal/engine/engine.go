// Package engine wires together the ingress receivers, the timeshift
// buffer, the configuration applier, and the WebRTC listener registry into
// the single running audio broker (§1 "The core"), and exposes the
// operator-facing surfaces §6 names.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/applier"
	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/receive"
	"github.com/patchbay/engine/internal/stats"
	"github.com/patchbay/engine/internal/timeshift"
)

// Engine owns every process-wide singleton (§9 "Global state: the
// timeshift and the log queue are process-wide singletons") plus the
// applier-owned instance graph.
type Engine struct {
	cfg    config.Engine
	logger *slog.Logger

	buffer *timeshift.Buffer
	graph  *applier.Graph
	logs   *LogQueue

	receiversMu sync.Mutex
	scream      map[string]*receive.ScreamReceiver
	rtp         map[string]*receive.RTPReceiver
	perProcess  map[string]*receive.PerProcessReceiver
	plugin      *receive.PluginIngress

	webrtc *ListenerRegistry

	devices *DeviceWatcher

	cancel context.CancelFunc
}

// New builds an Engine ready to Start. The cpp-log-message queue is fed
// through the handler returned by LogHandler, which the caller chains into
// its own slog handler; records not sent to it are not captured.
func New(cfg config.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	buffer := timeshift.New(cfg.Timeshift, logger)
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		buffer:     buffer,
		graph:      applier.NewGraph(buffer, cfg, logger),
		logs:       NewLogQueue(2048),
		scream:     make(map[string]*receive.ScreamReceiver),
		rtp:        make(map[string]*receive.RTPReceiver),
		perProcess: make(map[string]*receive.PerProcessReceiver),
		webrtc:     NewListenerRegistry(cfg.WebRTC),
		devices:    NewDeviceWatcher(5 * time.Second),
	}
	e.plugin = receive.NewPluginIngress(buffer, logger)
	return e
}

// Start launches the timeshift sweeper and the device watcher; receivers
// and sinks/paths are brought up separately (AddScreamReceiver etc, and
// Apply) since the desired set of each is owned by the external
// configuration store and control surface (§1 "deliberately excluded as
// external collaborators").
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.buffer.StartSweeper(100 * time.Millisecond)
	e.devices.Start(ctx)
}

// Shutdown stops the sweeper, device watcher, every receiver, and every
// listener; it does not release sink/path instances, which belong to the
// applier's own teardown order (§5 "Cancellation").
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.buffer.Close()

	e.receiversMu.Lock()
	for _, r := range e.scream {
		r.Close()
	}
	for _, r := range e.rtp {
		r.Close()
	}
	for _, r := range e.perProcess {
		r.Close()
	}
	e.receiversMu.Unlock()

	e.webrtc.CloseAll()
	e.graph.Close()
}

// Apply implements apply_state(DesiredEngineState) (§6).
func (e *Engine) Apply(desired applier.DesiredEngineState) error {
	return e.graph.Apply(desired)
}

// AddScreamReceiver opens a raw Scream UDP receiver on addr.
func (e *Engine) AddScreamReceiver(addr string) error {
	r, err := receive.NewScreamReceiver(addr, e.buffer, e.logger)
	if err != nil {
		return fmt.Errorf("add scream receiver %s: %w", addr, err)
	}
	e.receiversMu.Lock()
	e.scream[addr] = r
	e.receiversMu.Unlock()
	go r.Serve()
	return nil
}

// AddRTPReceiver opens a standard RTP receiver on addr.
func (e *Engine) AddRTPReceiver(addr string) error {
	r, err := receive.NewRTPReceiver(addr, e.buffer, e.logger)
	if err != nil {
		return fmt.Errorf("add rtp receiver %s: %w", addr, err)
	}
	e.receiversMu.Lock()
	e.rtp[addr] = r
	e.receiversMu.Unlock()
	go r.Serve()
	return nil
}

// AddPerProcessReceiver opens a per-process Scream receiver on addr.
func (e *Engine) AddPerProcessReceiver(addr string) error {
	r, err := receive.NewPerProcessReceiver(addr, e.buffer, e.logger)
	if err != nil {
		return fmt.Errorf("add per-process receiver %s: %w", addr, err)
	}
	e.receiversMu.Lock()
	e.perProcess[addr] = r
	e.receiversMu.Unlock()
	go r.Serve()
	return nil
}

// PluginIngress returns the process-wide plugin inject endpoint
// (write_plugin_packet, §6).
func (e *Engine) PluginIngress() *receive.PluginIngress { return e.plugin }

// GetRTPReceiverSeenTags backs get_rtp_receiver_seen_tags() (§6): seen tags
// across every live RTP receiver.
func (e *Engine) GetRTPReceiverSeenTags() map[frame.Tag]time.Time {
	e.receiversMu.Lock()
	defer e.receiversMu.Unlock()
	out := make(map[frame.Tag]time.Time)
	for _, r := range e.rtp {
		for t, at := range r.SeenTags() {
			out[t] = at
		}
	}
	return out
}

// GetRawScreamReceiverSeenTags backs get_raw_scream_receiver_seen_tags(port) (§6).
func (e *Engine) GetRawScreamReceiverSeenTags(addr string) (map[frame.Tag]time.Time, bool) {
	e.receiversMu.Lock()
	r, ok := e.scream[addr]
	e.receiversMu.Unlock()
	if !ok {
		return nil, false
	}
	return r.SeenTags(), true
}

// GetPerProcessScreamReceiverSeenTags backs
// get_per_process_scream_receiver_seen_tags(port) (§6).
func (e *Engine) GetPerProcessScreamReceiverSeenTags(addr string) (map[frame.Tag]time.Time, bool) {
	e.receiversMu.Lock()
	r, ok := e.perProcess[addr]
	e.receiversMu.Unlock()
	if !ok {
		return nil, false
	}
	return r.SeenTags(), true
}

// GetRTPSAPAnnouncements backs get_rtp_sap_announcements() (§6), merging
// announcements across every live RTP receiver.
func (e *Engine) GetRTPSAPAnnouncements() map[frame.Tag]receive.SAPAnnouncement {
	e.receiversMu.Lock()
	defer e.receiversMu.Unlock()
	out := make(map[frame.Tag]receive.SAPAnnouncement)
	for _, r := range e.rtp {
		for t, a := range r.Announcements() {
			out[t] = a
		}
	}
	return out
}

// ExportTimeshiftBuffer backs export_timeshift_buffer(tag, seconds) (§6).
func (e *Engine) ExportTimeshiftBuffer(tag frame.Tag, seconds time.Duration) []frame.PCM {
	return e.buffer.Export(tag, seconds)
}

// GetMP3DataByIP backs get_mp3_data_by_ip(ip) (§6).
func (e *Engine) GetMP3DataByIP(ip string) ([]byte, bool) {
	return e.graph.MP3BytesForIP(ip)
}

// GetAudioEngineStats backs get_audio_engine_stats() (§6, §4.7).
func (e *Engine) GetAudioEngineStats() EngineStats {
	out := EngineStats{PerTag: make(map[frame.Tag]stats.Snapshot)}
	for _, tag := range e.buffer.Tags() {
		if st := e.buffer.Stats(tag); st != nil {
			out.PerTag[tag] = st.Snapshot()
		}
	}
	return out
}

// EngineStats is the aggregate counter snapshot returned by
// get_audio_engine_stats (§4.7).
type EngineStats struct {
	PerTag map[frame.Tag]stats.Snapshot
}

// ListSystemDevices backs list_system_devices() (§6).
func (e *Engine) ListSystemDevices() ([]DeviceInfo, error) { return e.devices.List() }

// DrainDeviceNotifications backs drain_device_notifications() (§6).
func (e *Engine) DrainDeviceNotifications() []DeviceNotification { return e.devices.Drain() }

// AddWebRTCListener backs add_webrtc_listener(...) (§6).
func (e *Engine) AddWebRTCListener(sinkID, listenerID, offerSDP, clientIP string, onLocalDesc func(string), onICE func(ice ICECandidateJSON)) (string, error) {
	mixer := e.graph.Mixer(sinkID)
	if mixer == nil {
		return "", fmt.Errorf("add_webrtc_listener: sink %s not live", sinkID)
	}
	return e.webrtc.Add(sinkID, listenerID, clientIP, offerSDP, mixer, onLocalDesc, onICE)
}

// AddWebRTCRemoteICECandidate backs add_webrtc_remote_ice_candidate(...) (§6).
func (e *Engine) AddWebRTCRemoteICECandidate(sinkID, listenerID string, candidate ICECandidateJSON) error {
	return e.webrtc.AddRemoteICECandidate(sinkID, listenerID, candidate)
}

// RemoveWebRTCListener backs remove_webrtc_listener(sink_id, listener_id) (§6).
func (e *Engine) RemoveWebRTCListener(sinkID, listenerID string) {
	e.webrtc.Remove(sinkID, listenerID)
}

// GetCPPLogMessages backs get_cpp_log_messages(timeout_ms) (§6): the name
// is preserved verbatim from the external API the original engine exposed
// (SPEC_FULL); this engine's log queue is the Go-native log sink behind it.
func (e *Engine) GetCPPLogMessages(timeout time.Duration) []string {
	return e.logs.Drain(timeout)
}

// ShutdownCPPLogger backs shutdown_cpp_logger() (§6).
func (e *Engine) ShutdownCPPLogger() { e.logs.Close() }

// LogHandler returns the slog.Handler to chain into the process logger so
// emitted records also reach GetCPPLogMessages.
func (e *Engine) LogHandler() slog.Handler { return e.logs }

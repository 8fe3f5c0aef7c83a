package applier

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/encode"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sam"
	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/timeshift"
)

// sinkEncoder is one running protocol encoder attached to a sink's mixer
// output, reduced to the two operations the applier needs regardless of
// protocol (§9 "Dynamic dispatch... treat as a closed variant set behind a
// common 'accept mixed chunk' capability").
type sinkEncoder struct {
	run   func(ctx context.Context)
	close func() error
	lane  *sam.Lane
}

type liveSink struct {
	params AppliedSinkParams
	mixer  *sam.Mixer
	ctx    context.Context
	cancel context.CancelFunc

	encoders []*sinkEncoder
	paused   bool
}

type livePath struct {
	params AppliedSourcePathParams
	cursor *timeshift.Cursor
	holder *sip.ParamsHolder
	proc   *sip.SIP
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sinkID string
}

// Graph owns the live instance graph and is the sole mutation path into it
// (§4.6, §9 "everything else is instance-scoped via the applier"). One
// Graph per engine process; the timeshift buffer is the one other
// process-wide singleton it coordinates with (§9 "Global state").
type Graph struct {
	mu        sync.Mutex
	buffer    *timeshift.Buffer
	engineCfg config.Engine
	logger    *slog.Logger

	sinks map[string]*liveSink
	paths map[string]*livePath

	mp3mu     sync.Mutex
	mp3BySink map[string]*encode.MP3Encoder

	syncCtx    context.Context
	syncCancel context.CancelFunc
	syncGroups map[string]*sam.SyncGroup // keyed by AppliedSinkParams.TimeSyncGroup
}

func NewGraph(buffer *timeshift.Buffer, engineCfg config.Engine, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	syncCtx, syncCancel := context.WithCancel(context.Background())
	return &Graph{
		buffer:     buffer,
		engineCfg:  engineCfg,
		logger:     logger,
		sinks:      make(map[string]*liveSink),
		paths:      make(map[string]*livePath),
		mp3BySink:  make(map[string]*encode.MP3Encoder),
		syncCtx:    syncCtx,
		syncCancel: syncCancel,
		syncGroups: make(map[string]*sam.SyncGroup),
	}
}

// Close stops every multi-sink synchronization group's conductor goroutine
// (§4.4). Sink/path teardown is handled by Apply's own release steps, not
// here.
func (g *Graph) Close() {
	g.syncCancel()
	g.mu.Lock()
	groups := make([]*sam.SyncGroup, 0, len(g.syncGroups))
	for _, sg := range g.syncGroups {
		groups = append(groups, sg)
	}
	g.mu.Unlock()
	for _, sg := range groups {
		sg.Wait()
	}
}

// Apply converges the live graph to desired, in the step order fixed by
// §4.6: create sinks paused, create paths, update in place, release paths
// then sinks then timeshift tags, unpause new sinks. A desired state with
// dangling references is rejected by validate before anything changes
// (§7 "Apply-state failure... graph unchanged"); an error from creating a
// sink or a path is returned after the earlier steps have taken effect.
func (g *Graph) Apply(desired DesiredEngineState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	wantSinks := make(map[string]AppliedSinkParams, len(desired.Sinks))
	for _, s := range desired.Sinks {
		wantSinks[s.SinkID] = s
	}
	wantPaths := make(map[string]AppliedSourcePathParams, len(desired.SourcePaths))
	for _, p := range desired.SourcePaths {
		wantPaths[p.PathID] = p
	}

	if err := validate(desired); err != nil {
		return err
	}

	var newSinks []string
	newPaths := make(map[string]bool)

	// Step 1: create new sinks, paused. Multi-device sinks come last so the
	// receiver sinks they split across already exist.
	for _, multi := range []bool{false, true} {
		for _, s := range desired.Sinks {
			id := s.SinkID
			if s.MultiDeviceMode != multi {
				continue
			}
			if _, exists := g.sinks[id]; exists {
				continue
			}
			ls, err := g.createSink(wantSinks[id])
			if err != nil {
				return fmt.Errorf("create sink %s: %w", id, err)
			}
			g.sinks[id] = ls
			newSinks = append(newSinks, id)
		}
	}

	// Step 2: create new paths, attached to cursor + lane.
	for id, pp := range wantPaths {
		if _, exists := g.paths[id]; exists {
			continue
		}
		sinkParams, ok := wantSinks[pp.TargetSinkID]
		if !ok {
			return fmt.Errorf("path %s references unknown sink %s", id, pp.TargetSinkID)
		}
		lp, err := g.createPath(id, pp, sinkParams)
		if err != nil {
			return fmt.Errorf("create path %s: %w", id, err)
		}
		g.paths[id] = lp
		newPaths[id] = true
	}

	// Step 3: update params on existing sinks/paths in place.
	for id, sp := range wantSinks {
		ls, exists := g.sinks[id]
		if !exists || isNewSink(id, newSinks) {
			continue
		}
		g.updateSink(ls, sp)
	}
	for id, pp := range wantPaths {
		lp, exists := g.paths[id]
		if !exists || newPaths[id] {
			continue
		}
		sinkParams := wantSinks[pp.TargetSinkID]
		g.updatePath(lp, pp, sinkParams)
	}

	// Step 4: release paths no longer referenced, then sinks, then
	// timeshift tags no longer referenced by any path.
	for id, lp := range g.paths {
		if _, keep := wantPaths[id]; keep {
			continue
		}
		g.releasePath(lp)
		delete(g.paths, id)
	}
	for id, ls := range g.sinks {
		if _, keep := wantSinks[id]; keep {
			continue
		}
		g.releaseSink(ls)
		delete(g.sinks, id)
	}
	g.releaseUnreferencedTags()

	g.refreshSyncGroups()

	// Step 5: unpause newly created sinks.
	for _, id := range newSinks {
		g.unpauseSink(g.sinks[id])
	}

	return nil
}

// refreshSyncGroups re-joins every sink that names a non-empty
// TimeSyncGroup to its group with the current set of feeding SIPs, creating
// the group on first use (§4.4 "Multi-sink synchronization (optional)").
// Sinks with no TimeSyncGroup are left to their own Mixer.Run ticker.
func (g *Graph) refreshSyncGroups() {
	sipsBySink := make(map[string][]*sip.SIP, len(g.sinks))
	for _, lp := range g.paths {
		sipsBySink[lp.sinkID] = append(sipsBySink[lp.sinkID], lp.proc)
	}

	for sinkID, ls := range g.sinks {
		groupName := ls.params.TimeSyncGroup
		if !ls.params.TimeSyncEnabled || groupName == "" {
			continue
		}
		sg, ok := g.syncGroups[groupName]
		if !ok {
			sg = sam.NewSyncGroup(ls.mixer.TickInterval(), g.engineCfg.SAM, g.logger)
			g.syncGroups[groupName] = sg
			sg.Run(g.syncCtx)
		}
		sg.Join(sinkID, ls.mixer, sipsBySink[sinkID])
	}
}

// leaveSyncGroup removes sinkID from groupName, if it was joined.
func (g *Graph) leaveSyncGroup(sinkID, groupName string) {
	if groupName == "" {
		return
	}
	if sg, ok := g.syncGroups[groupName]; ok {
		sg.Leave(sinkID)
	}
}

func isNewSink(id string, newSinks []string) bool {
	for _, n := range newSinks {
		if n == id {
			return true
		}
	}
	return false
}

// validate rejects a desired state with dangling path -> sink references
// up front so Apply never partially mutates the graph (§7).
func validate(desired DesiredEngineState) error {
	sinkIDs := make(map[string]bool, len(desired.Sinks))
	for _, s := range desired.Sinks {
		sinkIDs[s.SinkID] = true
	}
	for _, p := range desired.SourcePaths {
		if !sinkIDs[p.TargetSinkID] {
			return fmt.Errorf("path %s references unknown sink %s", p.PathID, p.TargetSinkID)
		}
	}
	return nil
}

func (g *Graph) createSink(sp AppliedSinkParams) (*liveSink, error) {
	ctx, cancel := context.WithCancel(context.Background())
	mixer := sam.NewMixer(sp.SinkID, sp.OutputFormat, g.engineCfg.SIP.ChunkSamples, g.engineCfg.SAM, sam.SinkParams{
		GainLinear:  sp.GainLinear,
		EQGains:     sp.EQGains,
		DelayMillis: sp.DelayMillis,
	}, g.logger)

	ls := &liveSink{params: sp, mixer: mixer, ctx: ctx, cancel: cancel, paused: true}

	encoders, err := g.buildEncoders(sp, mixer)
	if err != nil {
		cancel()
		return nil, err
	}
	ls.encoders = encoders
	return ls, nil
}

func (g *Graph) buildEncoders(sp AppliedSinkParams, mixer *sam.Mixer) ([]*sinkEncoder, error) {
	var out []*sinkEncoder

	switch sp.Protocol {
	case ProtocolScream:
		if sp.MultiDeviceMode {
			targets := g.resolveScreamDeviceTargets(sp.RTPReceivers)
			if len(targets) == 0 {
				break
			}
			lane := mixer.Subscribe(g.engineCfg.SAM.MaxQueuedChunks)
			sender, err := encode.NewScreamMultiDeviceSender(targets, lane, g.logger)
			if err != nil {
				return nil, err
			}
			out = append(out, &sinkEncoder{run: sender.Run, close: sender.Close, lane: lane})
			break
		}
		lane := mixer.Subscribe(g.engineCfg.SAM.MaxQueuedChunks)
		sender, err := encode.NewScreamSender([]string{sp.OutputAddr}, lane, g.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, &sinkEncoder{run: sender.Run, close: sender.Close, lane: lane})

	case ProtocolRTP:
		lane := mixer.Subscribe(g.engineCfg.SAM.MaxQueuedChunks)
		sender, err := encode.NewRTPUDPSender(sp.OutputAddr, lane, uint8(sp.RTPPayload), encode.PayloadL16, uint32(sp.OutputFormat.SampleRate), sp.RTPSSRC, g.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, &sinkEncoder{run: sender.Run, close: func() error { sender.Close(); return nil }, lane: lane})

	case ProtocolSystemAudio:
		lane := mixer.Subscribe(g.engineCfg.SAM.MaxQueuedChunks)
		snk, err := encode.NewSystemAudioSink(lane, sp.OutputFormat.Channels, float64(sp.OutputFormat.SampleRate), g.engineCfg.SIP.ChunkSamples, g.engineCfg.SystemAudio, g.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, &sinkEncoder{run: snk.Run, close: snk.Close, lane: lane})

	case ProtocolWebReceiver:
		// WebRTC listeners are attached on demand via add_webrtc_listener
		// (§6), not created from desired state; nothing to build here.
	}

	if sp.MP3Enabled {
		lane := mixer.Subscribe(g.engineCfg.SAM.MaxQueuedChunks)
		mp3, err := encode.NewMP3Encoder(lane, sp.OutputFormat, g.engineCfg.MP3, g.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, &sinkEncoder{run: mp3.Run, close: mp3.Close, lane: lane})
		g.mp3mu.Lock()
		g.mp3BySink[sp.SinkID] = mp3
		g.mp3mu.Unlock()
	}

	return out, nil
}

// resolveScreamDeviceTargets resolves sp's multi-device receiver list to
// concrete UDP addresses against the sinks already live in this Graph
// (§4.6 "Multi-device RTP"). Must be called with g.mu already held.
func (g *Graph) resolveScreamDeviceTargets(mappings []DeviceMapping) []encode.ScreamDeviceTarget {
	identity := make(map[string]string, len(g.sinks))
	for id := range g.sinks {
		identity[id] = id
	}
	resolved := ResolveDeviceMappings(mappings, identity)
	out := make([]encode.ScreamDeviceTarget, 0, len(resolved))
	for _, r := range resolved {
		addr := g.sinks[r.ReceiverSinkID].params.OutputAddr
		if addr == "" {
			continue
		}
		out = append(out, encode.ScreamDeviceTarget{Addr: addr, Left: r.LeftChannel, Right: r.RightChannel})
	}
	return out
}

// MP3BytesForIP backs get_mp3_data_by_ip (§6): it returns the recent MP3
// bytes for whichever live MP3-enabled sink's output address host matches
// ip.
func (g *Graph) MP3BytesForIP(ip string) ([]byte, bool) {
	g.mu.Lock()
	var sinkID string
	for id, ls := range g.sinks {
		host := ls.params.OutputAddr
		if h, _, err := splitHostPort(host); err == nil {
			host = h
		}
		if host == ip {
			sinkID = id
			break
		}
	}
	g.mu.Unlock()
	if sinkID == "" {
		return nil, false
	}
	g.mp3mu.Lock()
	mp3, ok := g.mp3BySink[sinkID]
	g.mp3mu.Unlock()
	if !ok {
		return nil, false
	}
	return mp3.RecentBytes(), true
}

func (g *Graph) unpauseSink(ls *liveSink) {
	// A sink enrolled in a sync group is ticked by that group's conductor
	// instead of running its own independent ticker (§4.4).
	if !ls.params.TimeSyncEnabled || ls.params.TimeSyncGroup == "" {
		ls.mixer.Run(ls.ctx)
	}
	for _, e := range ls.encoders {
		e.run(ls.ctx)
	}
	ls.paused = false
}

func (g *Graph) updateSink(ls *liveSink, sp AppliedSinkParams) {
	ls.mixer.SetSinkParams(sam.SinkParams{
		GainLinear:  sp.GainLinear,
		EQGains:     sp.EQGains,
		DelayMillis: sp.DelayMillis,
	})

	oldGroup, oldEnabled := ls.params.TimeSyncGroup, ls.params.TimeSyncEnabled
	newGroup, newEnabled := sp.TimeSyncGroup, sp.TimeSyncEnabled
	if oldEnabled && oldGroup != "" && (!newEnabled || newGroup != oldGroup) {
		g.leaveSyncGroup(sp.SinkID, oldGroup)
		// Resume its own ticker now that no group drives it.
		if !newEnabled || newGroup == "" {
			ls.mixer.Run(ls.ctx)
		}
	}

	ls.params = sp
}

func (g *Graph) releaseSink(ls *liveSink) {
	if ls.params.TimeSyncEnabled && ls.params.TimeSyncGroup != "" {
		g.leaveSyncGroup(ls.params.SinkID, ls.params.TimeSyncGroup)
	}
	ls.cancel()
	ls.mixer.Wait()
	for _, e := range ls.encoders {
		e.close()
	}
	g.mp3mu.Lock()
	delete(g.mp3BySink, ls.params.SinkID)
	g.mp3mu.Unlock()
}

func splitHostPort(addr string) (string, string, error) {
	return net.SplitHostPort(addr)
}

func (g *Graph) createPath(id string, pp AppliedSourcePathParams, sinkParams AppliedSinkParams) (*livePath, error) {
	cursor := g.buffer.NewCursor(pp.SourceTag, time.Duration(pp.TimeshiftSec*float64(time.Second)), time.Duration(pp.DelayMillis*float64(time.Millisecond)))

	layout := ComposeLayoutEntries(pp.SpeakerLayouts[pp.SourceChannels], sinkParams.SpeakerLayouts[pp.SourceChannels])
	matrix := ResolveMatrix(layout, pp.SourceChannels, pp.TargetChannels)

	target := frame.Format{
		SampleRate: pp.TargetSampleRate,
		BitDepth:   sinkParams.OutputFormat.BitDepth,
		Channels:   pp.TargetChannels,
		Layout:     sinkParams.OutputFormat.Layout,
	}
	params := sip.DefaultParams(target)
	params.VolumeGainLinear = pp.GainLinear
	params.EQGains = pp.EQGains
	params.EQNormalize = pp.EQNormalize
	params.DelayMillis = pp.DelayMillis
	params.Matrix = matrix
	params.NormalizeEnabled = pp.VolumeNormalize
	params.MaxRateAdjustment = g.engineCfg.SIP.MaxRateAdjustment
	params.NoiseShapingFactor = 0.5
	params.DCFilterCutoffHz = g.engineCfg.SIP.DCFilterCutoffHz
	params.NormalizeAttackSecs = g.engineCfg.SIP.NormAttack.Seconds()
	params.NormalizeDecaySecs = g.engineCfg.SIP.NormDecay.Seconds()
	params.VolumeSmoothing = g.engineCfg.SIP.VolumeSmoothingFactor

	holder := sip.NewParamsHolder(params)
	sourceFormat := frame.Format{SampleRate: pp.SourceSampleRate, BitDepth: pp.SourceBitDepth, Channels: pp.SourceChannels}
	proc := sip.NewSIP(pp.SourceTag, cursor, sourceFormat, holder, g.logger)

	sinkLS, ok := g.sinks[pp.TargetSinkID]
	if !ok {
		g.buffer.ReleaseCursor(pp.SourceTag, cursor)
		return nil, fmt.Errorf("sink %s not live", pp.TargetSinkID)
	}
	lane := sinkLS.mixer.AddLane(id, g.engineCfg.SAM)

	ctx, cancel := context.WithCancel(context.Background())
	lp := &livePath{params: pp, cursor: cursor, holder: holder, proc: proc, ctx: ctx, cancel: cancel, sinkID: pp.TargetSinkID}

	tick := time.Duration(g.engineCfg.SIP.ChunkSamples) * time.Second / time.Duration(pp.TargetSampleRate)
	proc.Run(ctx, &lp.wg, g.engineCfg.SIP.ChunkSamples, tick, func(c sip.Chunk) { lane.Push(c) })

	return lp, nil
}

func (g *Graph) updatePath(lp *livePath, pp AppliedSourcePathParams, sinkParams AppliedSinkParams) {
	layout := ComposeLayoutEntries(pp.SpeakerLayouts[pp.SourceChannels], sinkParams.SpeakerLayouts[pp.SourceChannels])
	matrix := ResolveMatrix(layout, pp.SourceChannels, pp.TargetChannels)

	prev := lp.holder.Load()
	next := *prev
	next.VolumeGainLinear = pp.GainLinear
	next.EQGains = pp.EQGains
	next.EQNormalize = pp.EQNormalize
	next.DelayMillis = pp.DelayMillis
	next.Matrix = matrix
	next.NormalizeEnabled = pp.VolumeNormalize
	next.TargetFormat.SampleRate = pp.TargetSampleRate
	next.TargetFormat.Channels = pp.TargetChannels
	lp.holder.Store(&next)

	lp.cursor.SetParams(time.Duration(pp.TimeshiftSec*float64(time.Second)), time.Duration(pp.DelayMillis*float64(time.Millisecond)))
	lp.proc.SetSourceFormat(frame.Format{SampleRate: pp.SourceSampleRate, BitDepth: pp.SourceBitDepth, Channels: pp.SourceChannels})
	lp.params = pp
}

func (g *Graph) releasePath(lp *livePath) {
	lp.cancel()
	lp.wg.Wait()
	if ls, ok := g.sinks[lp.sinkID]; ok {
		ls.mixer.RemoveLane(lp.params.PathID)
	}
	g.buffer.ReleaseCursor(lp.params.SourceTag, lp.cursor)
}

// releaseUnreferencedTags drops timeshift state for any tag no longer
// referenced by a live path (§4.6 step 4, §3 "Lifecycle").
func (g *Graph) releaseUnreferencedTags() {
	referenced := make(map[frame.Tag]bool, len(g.paths))
	for _, lp := range g.paths {
		referenced[lp.params.SourceTag] = true
	}
	for _, tag := range g.buffer.Tags() {
		if !referenced[tag] {
			g.buffer.ReleaseTag(tag)
		}
	}
}

// Mixer returns the live mixer for a sink id, for the WebRTC listener
// registry (§6 "add_webrtc_listener") to subscribe against. Returns nil if
// the sink isn't live.
func (g *Graph) Mixer(sinkID string) *sam.Mixer {
	g.mu.Lock()
	defer g.mu.Unlock()
	ls, ok := g.sinks[sinkID]
	if !ok {
		return nil
	}
	return ls.mixer
}

// SinkIDs returns every currently-live sink id, used to resolve multi-device
// mappings (§4.6).
func (g *Graph) SinkIDs() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.sinks))
	for id := range g.sinks {
		out[id] = id
	}
	return out
}

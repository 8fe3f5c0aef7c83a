package applier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/timeshift"
)

func testGraph() *Graph {
	cfg := config.Default()
	buf := timeshift.New(cfg.Timeshift, nil)
	return NewGraph(buf, cfg, nil)
}

func webReceiverSink(id string) AppliedSinkParams {
	return AppliedSinkParams{
		SinkID:       id,
		Protocol:     ProtocolWebReceiver,
		OutputFormat: frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 2, Layout: frame.LayoutStereo},
		GainLinear:   1,
	}
}

func sourcePath(id, tag, sinkID string) AppliedSourcePathParams {
	return AppliedSourcePathParams{
		PathID:           id,
		SourceTag:        frame.Tag(tag),
		TargetSinkID:     sinkID,
		GainLinear:       1,
		TargetChannels:   2,
		TargetSampleRate: frame.Rate48000,
		SourceChannels:   2,
		SourceSampleRate: frame.Rate48000,
		SourceBitDepth:   frame.Depth16,
	}
}

func TestApplyCreatesSinkAndPath(t *testing.T) {
	g := testGraph()
	desired := DesiredEngineState{
		Sinks:       []AppliedSinkParams{webReceiverSink("sink-1")},
		SourcePaths: []AppliedSourcePathParams{sourcePath("path-1", "src-a", "sink-1")},
	}

	err := g.Apply(desired)
	require.NoError(t, err)

	assert.Contains(t, g.sinks, "sink-1")
	assert.Contains(t, g.paths, "path-1")
	assert.False(t, g.sinks["sink-1"].paused)
}

func TestApplyRejectsPathReferencingUnknownSink(t *testing.T) {
	g := testGraph()
	desired := DesiredEngineState{
		SourcePaths: []AppliedSourcePathParams{sourcePath("path-1", "src-a", "ghost-sink")},
	}

	err := g.Apply(desired)
	assert.Error(t, err)
	assert.Empty(t, g.paths)
}

func TestApplyIsIdempotentNoChurnOnReapply(t *testing.T) {
	g := testGraph()
	desired := DesiredEngineState{
		Sinks:       []AppliedSinkParams{webReceiverSink("sink-1")},
		SourcePaths: []AppliedSourcePathParams{sourcePath("path-1", "src-a", "sink-1")},
	}
	require.NoError(t, g.Apply(desired))

	sinkBefore := g.sinks["sink-1"]
	pathBefore := g.paths["path-1"]

	require.NoError(t, g.Apply(desired))
	assert.Same(t, sinkBefore, g.sinks["sink-1"])
	assert.Same(t, pathBefore, g.paths["path-1"])
}

func TestApplyUpdatesPathParamsInPlace(t *testing.T) {
	g := testGraph()
	desired := DesiredEngineState{
		Sinks:       []AppliedSinkParams{webReceiverSink("sink-1")},
		SourcePaths: []AppliedSourcePathParams{sourcePath("path-1", "src-a", "sink-1")},
	}
	require.NoError(t, g.Apply(desired))

	updated := sourcePath("path-1", "src-a", "sink-1")
	updated.GainLinear = 0.5
	desired.SourcePaths = []AppliedSourcePathParams{updated}
	require.NoError(t, g.Apply(desired))

	lp := g.paths["path-1"]
	assert.Equal(t, 0.5, lp.holder.Load().VolumeGainLinear)
}

func TestApplyReleasesPathAndSinkNoLongerDesired(t *testing.T) {
	g := testGraph()
	desired := DesiredEngineState{
		Sinks:       []AppliedSinkParams{webReceiverSink("sink-1")},
		SourcePaths: []AppliedSourcePathParams{sourcePath("path-1", "src-a", "sink-1")},
	}
	require.NoError(t, g.Apply(desired))

	require.NoError(t, g.Apply(DesiredEngineState{}))
	assert.Empty(t, g.sinks)
	assert.Empty(t, g.paths)
	assert.Empty(t, g.buffer.Tags())
}

func TestApplyReleasesOnlyUnreferencedTimeshiftTags(t *testing.T) {
	g := testGraph()
	desired := DesiredEngineState{
		Sinks: []AppliedSinkParams{webReceiverSink("sink-1")},
		SourcePaths: []AppliedSourcePathParams{
			sourcePath("path-1", "src-a", "sink-1"),
			sourcePath("path-2", "src-b", "sink-1"),
		},
	}
	require.NoError(t, g.Apply(desired))
	require.ElementsMatch(t, []frame.Tag{"src-a", "src-b"}, g.buffer.Tags())

	desired.SourcePaths = []AppliedSourcePathParams{sourcePath("path-1", "src-a", "sink-1")}
	require.NoError(t, g.Apply(desired))
	assert.ElementsMatch(t, []frame.Tag{"src-a"}, g.buffer.Tags())
}

func TestApplyLeavesGraphUnchangedOnValidationFailure(t *testing.T) {
	g := testGraph()
	require.NoError(t, g.Apply(DesiredEngineState{
		Sinks: []AppliedSinkParams{webReceiverSink("sink-1")},
	}))

	bad := DesiredEngineState{
		Sinks:       []AppliedSinkParams{webReceiverSink("sink-1")},
		SourcePaths: []AppliedSourcePathParams{sourcePath("path-1", "src-a", "ghost")},
	}
	err := g.Apply(bad)
	assert.Error(t, err)
	assert.Len(t, g.sinks, 1)
	assert.Empty(t, g.paths)
}

func TestGraphMixerReturnsNilForUnknownSink(t *testing.T) {
	g := testGraph()
	assert.Nil(t, g.Mixer("nope"))
}

func TestGraphSinkIDsReflectsLiveSinks(t *testing.T) {
	g := testGraph()
	require.NoError(t, g.Apply(DesiredEngineState{Sinks: []AppliedSinkParams{webReceiverSink("sink-1")}}))
	ids := g.SinkIDs()
	assert.Contains(t, ids, "sink-1")
}

func TestApplyMultiDeviceScreamSinkSplitsAcrossResolvedReceivers(t *testing.T) {
	g := testGraph()
	front := AppliedSinkParams{
		SinkID:       "front",
		Protocol:     ProtocolScream,
		OutputAddr:   "127.0.0.1:45100",
		OutputFormat: frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 2, Layout: frame.LayoutStereo},
		GainLinear:   1,
	}
	rear := AppliedSinkParams{
		SinkID:       "rear",
		Protocol:     ProtocolScream,
		OutputAddr:   "127.0.0.1:45101",
		OutputFormat: frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 2, Layout: frame.LayoutStereo},
		GainLinear:   1,
	}
	main := AppliedSinkParams{
		SinkID:          "main-5.1",
		Protocol:        ProtocolScream,
		OutputAddr:      "127.0.0.1:45102", // unused in multi-device mode
		OutputFormat:    frame.Format{SampleRate: frame.Rate48000, BitDepth: frame.Depth16, Channels: 6, Layout: frame.Layout5p1},
		GainLinear:      1,
		MultiDeviceMode: true,
		RTPReceivers: []DeviceMapping{
			{ReceiverSinkName: "front", LeftChannel: 0, RightChannel: 1},
			{ReceiverSinkName: "rear", LeftChannel: 2, RightChannel: 3},
			{ReceiverSinkName: "ghost", LeftChannel: 4, RightChannel: 5}, // unresolvable, skipped
		},
	}

	err := g.Apply(DesiredEngineState{Sinks: []AppliedSinkParams{front, rear, main}})
	require.NoError(t, err)

	ls := g.sinks["main-5.1"]
	require.NotNil(t, ls)
	require.Len(t, ls.encoders, 1)
}

package sam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/patchbay/engine/internal/config"
)

func TestSyncGroupJoinAndLeave(t *testing.T) {
	g := NewSyncGroup(10*time.Millisecond, config.Default().SAM, nil)
	cfg := config.Default().SAM
	m := NewMixer("sink-1", testFormat(), 4, cfg, SinkParams{GainLinear: 1}, nil)

	g.Join("sink-1", m, nil)
	g.mu.Lock()
	_, ok := g.members["sink-1"]
	g.mu.Unlock()
	assert.True(t, ok)

	g.Leave("sink-1")
	g.mu.Lock()
	_, ok = g.members["sink-1"]
	g.mu.Unlock()
	assert.False(t, ok)
}

func TestSyncGroupBarrierTickNoMembersIsNoOp(t *testing.T) {
	g := NewSyncGroup(10*time.Millisecond, config.Default().SAM, nil)
	g.barrierTick() // must not panic or block
}

func TestApplySkewNudgesTrimTowardErrorFraction(t *testing.T) {
	g := NewSyncGroup(100*time.Millisecond, config.SAM{SyncSmoothingFactor: 1.0}, nil)
	mem := &member{trim: 0}

	// Dwell twice the tick interval -> errFraction == 1.0, smoothing 1.0
	// means the trim jumps straight to it.
	g.applySkew(mem, 200*time.Millisecond)
	assert.InDelta(t, 1.0, mem.trim, 1e-9)
}

func TestApplySkewZeroTickIntervalIsNoOp(t *testing.T) {
	g := NewSyncGroup(0, config.Default().SAM, nil)
	mem := &member{trim: 0.5}
	g.applySkew(mem, 10*time.Millisecond)
	assert.Equal(t, 0.5, mem.trim)
}

package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogQueueHandleThenDrainReturnsLine(t *testing.T) {
	q := NewLogQueue(8)
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "hello world", 0)
	rec.AddAttrs(slog.String("k", "v"))

	require.NoError(t, q.Handle(context.Background(), rec))

	lines := q.Drain(10 * time.Millisecond)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "hello world")
	assert.Contains(t, lines[0], "k=v")
}

func TestLogQueueDrainBlocksThenTimesOutWhenEmpty(t *testing.T) {
	q := NewLogQueue(8)
	start := time.Now()
	lines := q.Drain(10 * time.Millisecond)
	assert.Empty(t, lines)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestLogQueueDropsOldestPastCapacity(t *testing.T) {
	q := NewLogQueue(2)
	for i := 0; i < 3; i++ {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0)
		require.NoError(t, q.Handle(context.Background(), rec))
	}
	lines := q.Drain(time.Millisecond)
	assert.Len(t, lines, 2)
}

func TestLogQueueCloseDropsFurtherHandlesAndUnblocksDrain(t *testing.T) {
	q := NewLogQueue(8)
	q.Close()

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "after close", 0)
	require.NoError(t, q.Handle(context.Background(), rec))

	lines := q.Drain(10 * time.Millisecond)
	assert.Empty(t, lines)
}

func TestLogQueueNewLogQueueZeroCapacityDefaults(t *testing.T) {
	q := NewLogQueue(0)
	assert.Equal(t, 1024, q.cap)
}

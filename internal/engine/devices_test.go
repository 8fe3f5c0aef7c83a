package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeviceWatcherDrainReturnsAndClearsQueue(t *testing.T) {
	w := NewDeviceWatcher(time.Second)
	w.queue = []DeviceNotification{
		{Kind: DeviceArrived, Name: "speakers"},
		{Kind: DeviceRemoved, Name: "headset"},
	}

	got := w.Drain()
	assert.Len(t, got, 2)
	assert.Empty(t, w.Drain())
}

func TestDeviceWatcherDrainOnEmptyQueueReturnsNil(t *testing.T) {
	w := NewDeviceWatcher(time.Second)
	assert.Empty(t, w.Drain())
}

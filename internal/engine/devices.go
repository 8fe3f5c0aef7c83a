package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DeviceInfo is one system audio device as surfaced by list_system_devices
// (§6).
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultOutput   bool
}

// DeviceNotificationKind distinguishes device arrival from removal for
// drain_device_notifications (§6).
type DeviceNotificationKind int

const (
	DeviceArrived DeviceNotificationKind = iota
	DeviceRemoved
)

type DeviceNotification struct {
	Kind DeviceNotificationKind
	Name string
	At   time.Time
}

// DeviceWatcher polls PortAudio's device list on an interval and diffs
// successive snapshots into arrival/removal notifications, since PortAudio
// itself has no hotplug callback (§6 "drain_device_notifications").
type DeviceWatcher struct {
	interval time.Duration

	mu    sync.Mutex
	known map[string]bool
	queue []DeviceNotification
}

func NewDeviceWatcher(interval time.Duration) *DeviceWatcher {
	return &DeviceWatcher{interval: interval, known: make(map[string]bool)}
}

func (w *DeviceWatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
}

func (w *DeviceWatcher) poll() {
	devices, err := w.List()
	if err != nil {
		return
	}
	seen := make(map[string]bool, len(devices))
	w.mu.Lock()
	for _, d := range devices {
		seen[d.Name] = true
		if !w.known[d.Name] {
			w.queue = append(w.queue, DeviceNotification{Kind: DeviceArrived, Name: d.Name, At: time.Now()})
		}
	}
	for name := range w.known {
		if !seen[name] {
			w.queue = append(w.queue, DeviceNotification{Kind: DeviceRemoved, Name: name, At: time.Now()})
		}
	}
	w.known = seen
	w.mu.Unlock()
}

// List returns the current PortAudio device set (list_system_devices, §6).
func (w *DeviceWatcher) List() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultOutputDevice()
	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefaultOutput:   def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// Drain returns and clears the queued device notifications
// (drain_device_notifications, §6).
func (w *DeviceWatcher) Drain() []DeviceNotification {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.queue
	w.queue = nil
	return out
}

package encode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/sam"
	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/stats"
)

// SystemAudioSink plays mixed chunks out through the host's default audio
// device via PortAudio, the cross-platform ALSA/WASAPI/CoreAudio
// abstraction (§4.5 "system audio"). Latency is adapted within
// [latency_min_ms, latency_max_ms] in response to observed under/overruns
// (the "dynamic-latency XRUN controller").
type SystemAudioSink struct {
	stream *portaudio.Stream
	lane   *sam.Lane
	out    []float32

	latencyMin time.Duration
	latencyMax time.Duration
	curLatency time.Duration

	stats  stats.StreamStats
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewSystemAudioSink opens the default output device at the given format.
// PortAudio's stream callback model is sidestepped in favor of blocking
// Write calls driven by our own goroutine, matching the chunk-paced
// producer/consumer shape used throughout the engine.
func NewSystemAudioSink(lane *sam.Lane, channels int, sampleRate float64, chunkSamples int, cfg config.SystemAudio, logger *slog.Logger) (*SystemAudioSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	minLatency := time.Duration(cfg.LatencyMinMillis) * time.Millisecond
	params, err := defaultOutputParameters(channels, sampleRate, minLatency)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	out := make([]float32, chunkSamples*channels)
	stream, err := portaudio.OpenStream(params, &out)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, err
	}
	return &SystemAudioSink{
		stream:     stream,
		lane:       lane,
		out:        out,
		latencyMin: minLatency,
		latencyMax: time.Duration(cfg.LatencyMaxMillis) * time.Millisecond,
		curLatency: minLatency,
		logger:     logger,
	}, nil
}

func defaultOutputParameters(channels int, sampleRate float64, latency time.Duration) (portaudio.StreamParameters, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return portaudio.StreamParameters{}, err
	}
	p := portaudio.LowLatencyParameters(nil, dev)
	p.Output.Channels = channels
	p.SampleRate = sampleRate
	p.Output.Latency = latency
	return p, nil
}

// Run drains the lane and writes chunks to the device, widening latency
// toward latency_max on each underrun and narrowing it back toward
// latency_min by a smaller step on each chunk received.
func (s *SystemAudioSink) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if ctx.Err() != nil {
				return
			}
			c, ok := s.lane.WaitPop(time.Now().Add(s.curLatency))
			if !ok {
				s.stats.NoteUnderrun()
				s.widenLatency()
				for i := range s.out {
					s.out[i] = 0
				}
			} else {
				s.narrowLatency()
				s.fill(c)
			}
			if err := s.stream.Write(); err != nil {
				s.logger.Debug("system audio write failed", "err", err)
				s.stats.NoteDrop()
			} else {
				s.stats.NotePacket(len(s.out) * 4)
			}
		}
	}()
}

func (s *SystemAudioSink) fill(c sip.Chunk) {
	for i := range s.out {
		if i < len(c.Samples) {
			s.out[i] = float32(c.Samples[i])
		} else {
			s.out[i] = 0
		}
	}
}

func (s *SystemAudioSink) widenLatency() {
	s.curLatency += 5 * time.Millisecond
	if s.curLatency > s.latencyMax {
		s.curLatency = s.latencyMax
	}
}

func (s *SystemAudioSink) narrowLatency() {
	s.curLatency -= time.Millisecond
	if s.curLatency < s.latencyMin {
		s.curLatency = s.latencyMin
	}
}

func (s *SystemAudioSink) Stats() *stats.StreamStats { return &s.stats }

func (s *SystemAudioSink) Close() error {
	s.wg.Wait()
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}

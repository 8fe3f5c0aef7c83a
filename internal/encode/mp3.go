package encode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/frame"
	"github.com/patchbay/engine/internal/sam"
	"github.com/patchbay/engine/internal/sip"
	"github.com/patchbay/engine/internal/stats"
)

// MP3Encoder transcodes mixed chunks to an MP3 byte stream via an ffmpeg
// child process (no pure-Go LAME binding appears anywhere in the teacher's
// or the wider pack's dependency surface, so this follows the
// ffmpeg-subprocess pattern used for Icecast/MP3 output elsewhere in the
// retrieved examples), buffering the encoded output in a bounded ring so
// get_mp3_data_by_ip (§6) can serve several trailing-window pulls without
// re-invoking ffmpeg per request.
type MP3Encoder struct {
	lane   *sam.Lane
	format frame.Format

	cmd   *exec.Cmd
	stdin io.WriteCloser

	ringMu sync.Mutex
	ring   [][]byte
	ringAt int
	cap    int

	stats  stats.StreamStats
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewMP3Encoder spawns ffmpeg reading raw interleaved s16le PCM on stdin at
// format and writing MP3 frames to stdout, which are captured into a
// bounded ring of the last cfg.RingChunks reads.
func NewMP3Encoder(lane *sam.Lane, format frame.Format, cfg config.MP3, logger *slog.Logger) (*MP3Encoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ffmpegBin, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found (required for mp3 output): %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(int(format.SampleRate)),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
		"-f", "mp3",
		"-b:a", strconv.Itoa(cfg.KBPS) + "k",
	}
	if cfg.VBR {
		args = append(args, "-q:a", "2")
	}
	args = append(args, "pipe:1")

	cmd := exec.Command(ffmpegBin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mp3 encoder stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mp3 encoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for mp3 output: %w", err)
	}

	e := &MP3Encoder{
		lane:   lane,
		format: format,
		cmd:    cmd,
		stdin:  stdin,
		cap:    cfg.RingChunks,
		logger: logger,
	}
	e.wg.Add(1)
	go e.readOutput(stdout)
	return e, nil
}

func (e *MP3Encoder) readOutput(stdout io.ReadCloser) {
	defer e.wg.Done()
	defer stdout.Close()
	buf := make([]byte, 8*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			e.ringMu.Lock()
			if len(e.ring) < e.cap {
				e.ring = append(e.ring, chunk)
			} else {
				e.ring[e.ringAt] = chunk
				e.ringAt = (e.ringAt + 1) % e.cap
			}
			e.ringMu.Unlock()
			e.stats.NotePacket(n)
		}
		if err != nil {
			if err != io.EOF {
				e.logger.Debug("mp3 ffmpeg stdout error", "err", err)
			}
			return
		}
	}
}

// Run feeds mixed chunks to ffmpeg's stdin until ctx is cancelled.
func (e *MP3Encoder) Run(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			if ctx.Err() != nil {
				return
			}
			c, ok := e.lane.WaitPop(time.Now().Add(50 * time.Millisecond))
			if !ok {
				continue
			}
			e.feed(c)
		}
	}()
}

func (e *MP3Encoder) feed(c sip.Chunk) {
	payload := sip.PackBytes(nil, c.Samples, 16)
	if _, err := e.stdin.Write(payload); err != nil {
		e.stats.NoteDrop()
		e.logger.Debug("mp3 ffmpeg stdin write failed", "err", err)
	}
}

// RecentBytes returns up to everything currently held in the ring, oldest
// first, for the get_mp3_data_by_ip surface (§6).
func (e *MP3Encoder) RecentBytes() []byte {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	var out []byte
	if len(e.ring) < e.cap {
		for _, c := range e.ring {
			out = append(out, c...)
		}
		return out
	}
	for i := 0; i < e.cap; i++ {
		out = append(out, e.ring[(e.ringAt+i)%e.cap]...)
	}
	return out
}

func (e *MP3Encoder) Stats() *stats.StreamStats { return &e.stats }

// Close stops feeding ffmpeg and waits for it to drain and exit. The
// caller must have already cancelled Run's context so the feed goroutine
// has stopped before stdin is closed.
func (e *MP3Encoder) Close() error {
	e.stdin.Close()
	e.wg.Wait()
	return e.cmd.Wait()
}

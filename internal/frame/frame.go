package frame

import "time"

// PCM is a fixed logical PCM frame (§3): 1152 samples per channel of
// interleaved integer PCM, stamped with the identity and arrival time of
// the stream it came from. A frame is owned by exactly one holder at a
// time; the timeshift buffer takes ownership on arrival, and its cursors
// hand the stored frame to SIPs with Data shared, not copied (Clone makes
// an independent copy).
type PCM struct {
	SourceTag      Tag
	ArrivalInstant time.Duration // monotonic, relative to an engine-wide epoch
	Format         Format

	// Data is interleaved PCM in Format.BitDepth-sized samples, exactly
	// Format.FrameBytes() long.
	Data []byte
}

// Clone returns a deep copy of the frame, safe to hand to a second reader
// without aliasing Data.
func (p PCM) Clone() PCM {
	out := p
	out.Data = append([]byte(nil), p.Data...)
	return out
}

// Silence returns a zero-filled frame of the given format and arrival time,
// used by SIPs and SAM lanes to fill gaps without blocking (§4.3, §4.4).
func Silence(tag Tag, arrival time.Duration, f Format) PCM {
	return PCM{
		SourceTag:      tag,
		ArrivalInstant: arrival,
		Format:         f,
		Data:           make([]byte, f.FrameBytes()),
	}
}

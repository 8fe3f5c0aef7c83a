package frame

import "fmt"

// ScreamHeader is the 5-byte wire header prepended to every Scream PCM
// payload (§6). Byte 0's high bit selects the base rate the low 7 bits'
// multiplier scales: set means 44.1 kHz, clear means 48 kHz; byte 1 is bit
// depth; byte 2 is channel count; bytes 3-4 are the channel mask.
type ScreamHeader struct {
	SampleRate SampleRate
	BitDepth   BitDepth
	Channels   int
	Mask       ChannelMask
}

const screamHeaderSize = 5

// baseRate44 and baseRate48 are the two base rates the multiplier byte
// scales; the multiplier is 1..127 kept in the low 7 bits of byte 0.
const (
	baseRate44 = 44100
	baseRate48 = 48000
)

// EncodeScreamHeader writes the 5-byte header for h into dst (len(dst) must
// be >= 5) and returns the number of bytes written.
func EncodeScreamHeader(dst []byte, h ScreamHeader) (int, error) {
	if len(dst) < screamHeaderSize {
		return 0, fmt.Errorf("scream header: dst too small (%d < %d)", len(dst), screamHeaderSize)
	}
	var base int
	var useHighBit bool
	switch {
	case int(h.SampleRate)%baseRate44 == 0:
		base = baseRate44
		useHighBit = true
	case int(h.SampleRate)%baseRate48 == 0:
		base = baseRate48
		useHighBit = false
	default:
		return 0, fmt.Errorf("scream header: sample rate %d not derived from 44100 or 48000", h.SampleRate)
	}
	mult := int(h.SampleRate) / base
	if mult < 1 || mult > 0x7F {
		return 0, fmt.Errorf("scream header: multiplier %d out of range", mult)
	}
	if !h.BitDepth.Valid() {
		return 0, fmt.Errorf("scream header: invalid bit depth %d", h.BitDepth)
	}
	if h.Channels < 1 || h.Channels > 8 {
		return 0, fmt.Errorf("scream header: invalid channel count %d", h.Channels)
	}

	b0 := byte(mult & 0x7F)
	if useHighBit {
		b0 |= 0x80
	}
	dst[0] = b0
	dst[1] = byte(h.BitDepth)
	dst[2] = byte(h.Channels)
	dst[3] = byte(h.Mask & 0xFF)
	dst[4] = byte((h.Mask >> 8) & 0xFF)
	return screamHeaderSize, nil
}

// DecodeScreamHeader parses the 5-byte Scream wire header from src. Unknown
// channel masks resolve to stereo per §6/§9 and are reported via the second
// return value (false means "layout was not recognized, stereo assumed").
func DecodeScreamHeader(src []byte) (ScreamHeader, ChannelLayout, bool, error) {
	if len(src) < screamHeaderSize {
		return ScreamHeader{}, "", false, fmt.Errorf("scream header: short packet (%d < %d)", len(src), screamHeaderSize)
	}
	b0 := src[0]
	mult := int(b0 & 0x7F)
	if mult == 0 {
		mult = 1
	}
	base := baseRate48
	if b0&0x80 != 0 {
		base = baseRate44
	}
	sr := SampleRate(base * mult)

	depth := BitDepth(src[1])
	if !depth.Valid() {
		return ScreamHeader{}, "", false, fmt.Errorf("scream header: invalid bit depth %d", src[1])
	}

	channels := int(src[2])
	if channels < 1 || channels > 8 {
		return ScreamHeader{}, "", false, fmt.Errorf("scream header: invalid channel count %d", channels)
	}

	mask := ChannelMask(uint16(src[3]) | uint16(src[4])<<8)
	layout, _, known := mask.Layout()

	h := ScreamHeader{
		SampleRate: sr,
		BitDepth:   depth,
		Channels:   channels,
		Mask:       mask,
	}
	return h, layout, known, nil
}

package frame

import "strings"

// MaxTagBytes is the bound on a source tag's length (§3).
const MaxTagBytes = 45

// Tag is an opaque, bounded source identity: a Scream/RTP sender IP, a
// per-process label concatenated with an IP, or a plugin-supplied instance
// id. Tags are stable across reconnects of the same producer (§3).
type Tag string

// Canonicalize trims whitespace, strips embedded NULs, and truncates to
// MaxTagBytes, matching the derivation rules in §4.1.
func Canonicalize(raw string) Tag {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\x00", ""))
	if len(raw) > MaxTagBytes {
		raw = raw[:MaxTagBytes]
	}
	return Tag(raw)
}

func (t Tag) String() string { return string(t) }

func (t Tag) Valid() bool {
	return len(t) > 0 && len(t) <= MaxTagBytes
}

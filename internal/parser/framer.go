package parser

import (
	"strings"

	"github.com/saviobatista/dongle-pairing/internal/types"
)

// Framer accumulates transcript lines between StartMarker and EndMarker.
// It is not safe for concurrent use; each serial reader owns one.
type Framer struct {
	inFrame bool
	lines   []string
	raw     []string
}

// NewFramer creates an empty Framer
func NewFramer() *Framer {
	return &Framer{}
}

// Feed consumes one line. It returns a sample only when the line is the end
// marker of a frame whose contents form a valid sample.
func (f *Framer) Feed(line string) (*types.RawSample, bool) {
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == StartMarker:
		f.inFrame = true
		f.lines = f.lines[:0]
		f.raw = append(f.raw[:0], trimmed)
		return nil, false
	case !f.inFrame:
		return nil, false
	case trimmed == EndMarker:
		f.inFrame = false
		f.raw = append(f.raw, trimmed)
		return ParseFrame(f.lines)
	default:
		f.lines = append(f.lines, trimmed)
		f.raw = append(f.raw, trimmed)
		return nil, false
	}
}

// Transcript returns the lines of the most recently closed or open frame,
// markers included.
func (f *Framer) Transcript() string {
	return strings.Join(f.raw, "\n")
}

// InFrame reports whether a start marker has been seen without its end marker
func (f *Framer) InFrame() bool {
	return f.inFrame
}

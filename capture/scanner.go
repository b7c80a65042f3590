// Package capture owns the producer subprocess and the loop that turns its
// raw MJPEG output into discrete frames: launch and two-phase shutdown of
// the encoder, incremental frame boundary extraction, publishing into the
// shared frame store, and the optional decoded-preview hand-off.
package capture

import (
	"bytes"
	"errors"
	"time"

	"strzcam.com/screencaster/frame"
)

// eoiMarker is the JPEG end-of-image marker that delimits frames in the
// concatenated stream.
var eoiMarker = []byte{0xFF, 0xD9}

// ErrDesync reports that the accumulation buffer exceeded its cap without a
// frame boundary. The buffer has been discarded; scanning continues on the
// next chunk. Frames found in the same pass are still returned.
var ErrDesync = errors.New("capture: no frame boundary within buffer cap, stream desynchronized")

// Scanner incrementally cuts complete JPEG frames out of an arbitrarily
// chunked byte stream. One Scanner serves one capture session; it is not
// safe for concurrent use.
//
// Any 0xFF 0xD9 pair is taken as a frame boundary. The pair can in rare
// cases occur inside entropy-coded JPEG payload; such a frame is split in
// two. Full JPEG parsing is deliberately not attempted.
type Scanner struct {
	buf []byte
	max int
	seq uint64
}

// NewScanner returns a Scanner whose accumulation buffer is capped at
// maxBuffer bytes.
func NewScanner(maxBuffer int) *Scanner {
	return &Scanner{max: maxBuffer}
}

// Append adds chunk to the accumulation buffer and returns every frame
// completed by it, in stream order. The whole buffer is scanned, not just
// the chunk, so markers straddling chunk boundaries are found. Unconsumed
// trailing bytes are retained for the next call.
//
// When the retained tail exceeds the buffer cap it is discarded and Append
// returns ErrDesync together with any frames found before the reset.
func (s *Scanner) Append(chunk []byte) ([]*frame.Frame, error) {
	s.buf = append(s.buf, chunk...)

	var frames []*frame.Frame
	start := 0
	for {
		i := bytes.Index(s.buf[start:], eoiMarker)
		if i < 0 {
			break
		}
		end := start + i + len(eoiMarker)
		data := make([]byte, end-start)
		copy(data, s.buf[start:end])
		s.seq++
		frames = append(frames, &frame.Frame{Data: data, Seq: s.seq, At: time.Now()})
		start = end
	}

	// Keep only the unconsumed tail.
	if start > 0 {
		n := copy(s.buf, s.buf[start:])
		s.buf = s.buf[:n]
	}

	if len(s.buf) > s.max {
		s.buf = s.buf[:0]
		return frames, ErrDesync
	}
	return frames, nil
}

// Buffered returns the number of unconsumed bytes currently held.
func (s *Scanner) Buffered() int { return len(s.buf) }

package record

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"strzcam.com/screencaster/frame"
)

// Recorder buffers the most recent frames in memory and writes them out as
// numbered JPEG files when flushed. Flush directories are grouped by date,
// one timestamped subdirectory per flush.
type Recorder struct {
	ring *Ring
	dir  string
}

// NewRecorder creates a Recorder spooling into dir.
func NewRecorder(dir string, ringFrames int) *Recorder {
	return &Recorder{
		ring: NewRing(ringFrames),
		dir:  dir,
	}
}

// Offer adds a frame to the pre-record ring. Called from the capture loop;
// never blocks beyond the ring's pointer bookkeeping.
func (r *Recorder) Offer(f *frame.Frame) {
	r.ring.Add(f)
}

// Pending returns the number of frames currently buffered.
func (r *Recorder) Pending() int {
	return r.ring.Size()
}

// Flush writes the buffered frames to a fresh flush directory and empties
// the ring. Returns the directory and the number of frames written.
func (r *Recorder) Flush() (string, int, error) {
	frames := r.ring.Drain()
	if len(frames) == 0 {
		return "", 0, nil
	}

	now := time.Now()
	dir := filepath.Join(r.dir, now.Format("2006-01-02"), now.Format("150405.000"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("record: create flush dir: %w", err)
	}

	for i, f := range frames {
		name := filepath.Join(dir, fmt.Sprintf("frame%d.jpg", i))
		if err := os.WriteFile(name, f.Data, 0o644); err != nil {
			return dir, i, fmt.Errorf("record: write %s: %w", name, err)
		}
	}

	slog.Info("flushed pre-record ring", "dir", dir, "frames", len(frames))
	return dir, len(frames), nil
}

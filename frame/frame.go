package frame

import "time"

// Frame is a single complete JPEG image cut out of the producer's byte
// stream. Data starts right after the previous end-of-image marker and ends
// at (and includes) its own marker. Frames are immutable after creation;
// Data must not be modified by any consumer.
type Frame struct {
	Data []byte
	Seq  uint64
	At   time.Time
}

package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"strzcam.com/screencaster/frame"
	"strzcam.com/screencaster/record"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// rawFrame builds a fake JPEG frame: payload bytes free of 0xFF, EOI marker
// at the end.
func rawFrame(n int, fill byte) []byte {
	f := bytes.Repeat([]byte{fill}, n-2)
	return append(f, 0xFF, 0xD9)
}

// encodedFrame is a real JPEG, for the preview decode path.
func encodedFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func startTestSession(opts sessionOptions) (*Session, *io.PipeWriter) {
	pr, pw := io.Pipe()
	if opts.readChunk == 0 {
		opts.readChunk = 64
	}
	if opts.maxBuffer == 0 {
		opts.maxBuffer = 4096
	}
	s := newSession(pr, opts)
	go s.run()
	return s, pw
}

func TestSessionPublishesFrames(t *testing.T) {
	store := frame.NewStore()
	s, pw := startTestSession(sessionOptions{store: store})

	pw.Write(rawFrame(40, 'a'))
	pw.Write(rawFrame(60, 'b'))

	waitFor(t, "both frames published", func() bool {
		f := store.Snapshot()
		return f != nil && f.Seq == 2
	})
	if got := store.Snapshot().Data; got[0] != 'b' {
		t.Errorf("latest frame fill %q, want 'b'", got[0])
	}

	pw.Close()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on EOF")
	}
	frames, n, desyncs := s.Stats()
	if frames != 2 || desyncs != 0 {
		t.Errorf("stats frames=%d desyncs=%d, want 2 and 0", frames, desyncs)
	}
	if n != 100 {
		t.Errorf("stats bytes=%d, want 100", n)
	}
}

func TestSessionSurvivesDesync(t *testing.T) {
	store := frame.NewStore()
	var events []Event
	var mu sync.Mutex
	s, pw := startTestSession(sessionOptions{
		store:     store,
		maxBuffer: 64,
		notify: func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	defer pw.Close()

	// Markerless garbage past the cap, then a valid frame.
	pw.Write(bytes.Repeat([]byte{'x'}, 100))
	waitFor(t, "desync counted", func() bool {
		_, _, desyncs := s.Stats()
		return desyncs == 1
	})

	pw.Write(rawFrame(30, 'a'))
	waitFor(t, "frame after desync", func() bool {
		return store.Snapshot() != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Type != EventDesync {
		t.Errorf("events = %+v, want one desync event", events)
	}
}

func TestSessionCancelEndsLoop(t *testing.T) {
	s, pw := startTestSession(sessionOptions{store: frame.NewStore()})
	defer pw.Close()

	s.cancel()
	// The loop notices cancellation after the read it is blocked in returns.
	pw.Write(rawFrame(20, 'a'))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after cancel")
	}
}

func TestSessionOffersFramesToRecorder(t *testing.T) {
	store := frame.NewStore()
	rec := record.NewRecorder(t.TempDir(), 8)
	_, pw := startTestSession(sessionOptions{store: store, recorder: rec})
	defer pw.Close()

	pw.Write(rawFrame(30, 'a'))
	pw.Write(rawFrame(30, 'b'))
	waitFor(t, "frames offered to recorder", func() bool {
		return rec.Pending() == 2
	})
}

func TestPreviewPermitDropsWhileDecodeBlocked(t *testing.T) {
	store := frame.NewStore()
	var calls atomic.Int64
	entered := make(chan struct{}, 8)
	release := make(chan struct{})

	_, pw := startTestSession(sessionOptions{
		store: store,
		preview: func(img image.Image) {
			calls.Add(1)
			entered <- struct{}{}
			<-release
		},
	})
	defer pw.Close()

	jf := encodedFrame(t)

	pw.Write(jf)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first preview decode never ran")
	}

	// While the sink is blocked the permit is held: these are dropped for
	// preview but still published.
	pw.Write(jf)
	pw.Write(jf)
	waitFor(t, "frames published", func() bool {
		f := store.Snapshot()
		return f != nil && f.Seq == 3
	})
	if got := calls.Load(); got != 1 {
		t.Fatalf("preview called %d times while blocked, want 1", got)
	}

	close(release)

	// Once the permit frees up, a fresh frame reaches the sink again.
	waitFor(t, "second preview call", func() bool {
		pw.Write(jf)
		return calls.Load() >= 2
	})
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"

	"strzcam.com/screencaster/frame"
	"strzcam.com/screencaster/observe"
	"strzcam.com/screencaster/record"
)

// PreviewSink receives decoded preview images. It is called from a worker
// goroutine; implementations hand the image to their UI thread themselves.
type PreviewSink func(img image.Image)

// sessionOptions carries everything one capture session needs besides the
// byte source.
type sessionOptions struct {
	store        frame.Store
	recorder     *record.Recorder
	preview      PreviewSink
	previewWidth int
	readChunk    int
	maxBuffer    int
	metrics      *observe.Metrics
	notify       func(Event)
}

// Session is one run of the read → scan → publish loop. It lives from a
// successful producer launch until EOF, producer exit, or cancellation.
type Session struct {
	src     io.Reader
	scanner *Scanner
	opts    sessionOptions

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// decodeSem is the capacity-1 permit for preview decoding. A frame that
	// arrives while a decode is in flight is dropped for preview only.
	decodeSem *semaphore.Weighted

	frames  atomic.Uint64
	bytes   atomic.Uint64
	desyncs atomic.Uint64
}

func newSession(src io.Reader, opts sessionOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		src:       src,
		scanner:   NewScanner(opts.maxBuffer),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		decodeSem: semaphore.NewWeighted(1),
	}
}

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stats returns the running counters for status reporting.
func (s *Session) Stats() (frames, bytes, desyncs uint64) {
	return s.frames.Load(), s.bytes.Load(), s.desyncs.Load()
}

// run is the capture loop. It owns the only read side of the producer's
// stdout and is the single writer of the frame store. A mid-stream producer
// exit is a clean end, not an error.
func (s *Session) run() {
	defer close(s.done)

	buf := make([]byte, s.opts.readChunk)
	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			s.bytes.Add(uint64(n))
			if s.opts.metrics != nil {
				s.opts.metrics.AddBytesRead(s.ctx, int64(n))
			}
			s.handleChunk(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || s.ctx.Err() != nil {
				slog.Info("producer stream ended", "frames", s.frames.Load(), "bytes", s.bytes.Load())
			} else {
				slog.Warn("producer read error", "err", err)
			}
			return
		}
		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *Session) handleChunk(chunk []byte) {
	frames, err := s.scanner.Append(chunk)
	if errors.Is(err, ErrDesync) {
		s.desyncs.Add(1)
		if s.opts.metrics != nil {
			s.opts.metrics.AddDesync(s.ctx)
		}
		slog.Warn("stream desynchronized, accumulation buffer dropped", "desyncs", s.desyncs.Load())
		s.emit(Event{Type: EventDesync, At: time.Now()})
	}
	for _, f := range frames {
		s.opts.store.Publish(f)
		s.frames.Add(1)
		if s.opts.metrics != nil {
			s.opts.metrics.AddFrameExtracted(s.ctx, int64(len(f.Data)))
		}
		if s.opts.recorder != nil {
			s.opts.recorder.Offer(f)
		}
		s.offerPreview(f)
	}
}

// offerPreview decodes f for the preview sink unless a decode is already in
// flight. Dropping here keeps a slow decoder from stalling extraction; the
// raw frame was published regardless.
func (s *Session) offerPreview(f *frame.Frame) {
	if s.opts.preview == nil {
		return
	}
	if !s.decodeSem.TryAcquire(1) {
		return
	}
	go func() {
		defer s.decodeSem.Release(1)
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			slog.Debug("preview decode failed", "seq", f.Seq, "err", err)
			return
		}
		if s.opts.previewWidth > 0 {
			img = scaleToWidth(img, s.opts.previewWidth)
		}
		s.opts.preview(img)
	}()
}

func (s *Session) emit(ev Event) {
	if s.opts.notify != nil {
		s.opts.notify(ev)
	}
}

// scaleToWidth downscales img to the given width, keeping the aspect ratio.
// Images at or below the target are returned unchanged.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width {
		return img
	}
	h := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

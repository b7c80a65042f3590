package server

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// idleWait is how long a connection loop sleeps when it is either ahead of
// its pacing interval or has no new frame to send.
const idleWait = 5 * time.Millisecond

// streamBoundary is the fixed multipart boundary token.
const streamBoundary = "frame"

// serveStream runs one independent pacing loop per connection. Each viewer
// pulls the latest frame at its own cadence; frames arriving faster than the
// pacing interval are coalesced and a frame is sent at most once per viewer.
// Write failures or disconnects end this connection only.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	mw := multipart.NewWriter(w)
	mw.SetBoundary(streamBoundary)

	ctx := r.Context()
	if s.metrics != nil {
		s.metrics.ViewerUp(ctx)
		defer s.metrics.ViewerDown(context.Background())
	}
	slog.Debug("viewer connected", "remote", r.RemoteAddr)
	defer slog.Debug("viewer disconnected", "remote", r.RemoteAddr)

	var (
		lastSeq   uint64
		lastSend  time.Time
		sawActive bool
	)
	for {
		if ctx.Err() != nil {
			return
		}

		// A session ending takes this viewer with it; a viewer that
		// connected before any session simply waits for frames.
		if s.manager != nil {
			active := s.manager.Active()
			if sawActive && !active {
				return
			}
			sawActive = sawActive || active
		}

		if wait := s.minInterval - time.Since(lastSend); wait > 0 {
			sleep(ctx, min(wait, idleWait))
			continue
		}

		f := s.store.Snapshot()
		if f == nil || f.Seq == lastSeq {
			sleep(ctx, idleWait)
			continue
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type": {"image/jpeg"},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(f.Data); err != nil {
			return
		}
		flusher.Flush()

		lastSeq = f.Seq
		lastSend = time.Now()
		if s.metrics != nil {
			s.metrics.AddFrameServed(ctx)
		}
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Package server exposes the HTTP surface: the multipart MJPEG stream, a
// single-frame snapshot, the session control API, a websocket status feed,
// and Prometheus metrics.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strzcam.com/screencaster/capture"
	"strzcam.com/screencaster/config"
	"strzcam.com/screencaster/frame"
	"strzcam.com/screencaster/observe"
	"strzcam.com/screencaster/record"
)

// Config holds the dependencies for a [Server].
type Config struct {
	// Store is the frame slot viewers read from. Required.
	Store frame.Store

	// Manager is the session control surface. Optional; without it the
	// session API returns 503 and stream loops never self-terminate on
	// session stop.
	Manager *capture.Manager

	// Recorder backs the /api/record endpoint. Optional.
	Recorder *record.Recorder

	// Metrics receives server instrumentation. Optional.
	Metrics *observe.Metrics

	// Hub receives status events for websocket observers. Optional.
	Hub *Hub

	// MinFrameInterval paces each viewer connection. Zero means the
	// configured default.
	MinFrameInterval time.Duration
}

// Server wires the HTTP handlers together. One instance serves any number
// of concurrent viewers.
type Server struct {
	store       frame.Store
	manager     *capture.Manager
	recorder    *record.Recorder
	metrics     *observe.Metrics
	hub         *Hub
	minInterval time.Duration
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	if cfg.MinFrameInterval <= 0 {
		cfg.MinFrameInterval = config.DefaultMinFrameInterval
	}
	return &Server{
		store:       cfg.Store,
		manager:     cfg.Manager,
		recorder:    cfg.Recorder,
		metrics:     cfg.Metrics,
		hub:         cfg.Hub,
		minInterval: cfg.MinFrameInterval,
	}
}

// Routes returns the server's handler mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.index)
	mux.HandleFunc("GET /stream", s.serveStream)
	mux.HandleFunc("GET /snapshot", s.snapshot)
	mux.HandleFunc("POST /api/session/start", s.sessionStart)
	mux.HandleFunc("POST /api/session/stop", s.sessionStop)
	mux.HandleFunc("GET /api/session/status", s.sessionStatus)
	mux.HandleFunc("POST /api/record", s.recordFlush)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.serveWS)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	html := `
<!DOCTYPE html>
<html>
<head>
    <title>screencaster</title>
</head>
<body>
    <h1>Live Screen Stream</h1>
    <img src="/stream" alt="live stream">
    <p>
        <a href="/snapshot">Snapshot</a>
        <a href="/api/session/status">Status</a>
    </p>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	f := s.store.Snapshot()
	if f == nil {
		http.Error(w, "no frame captured yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(f.Data)
}

func (s *Server) sessionStart(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		http.Error(w, "session control not configured", http.StatusServiceUnavailable)
		return
	}
	err := s.manager.Start(r.Context())
	switch {
	case errors.Is(err, capture.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		slog.Error("session start failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, s.statusBody())
	}
}

func (s *Server) sessionStop(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		http.Error(w, "session control not configured", http.StatusServiceUnavailable)
		return
	}
	err := s.manager.Stop(r.Context())
	switch {
	case errors.Is(err, capture.ErrNotRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		slog.Error("session stop failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, s.statusBody())
	}
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusBody())
}

type statusResponse struct {
	Active  bool                 `json:"active"`
	Info    *capture.SessionInfo `json:"info,omitempty"`
	Frames  uint64               `json:"frames"`
	Bytes   uint64               `json:"bytes"`
	Desyncs uint64               `json:"desyncs"`
}

func (s *Server) statusBody() statusResponse {
	var resp statusResponse
	if s.manager == nil {
		return resp
	}
	resp.Active = s.manager.Active()
	if resp.Active {
		info := s.manager.Info()
		resp.Info = &info
	}
	resp.Frames, resp.Bytes, resp.Desyncs = s.manager.Stats()
	return resp
}

func (s *Server) recordFlush(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		http.Error(w, "recording not configured", http.StatusServiceUnavailable)
		return
	}
	dir, n, err := s.recorder.Flush()
	if err != nil {
		slog.Error("record flush failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(capture.Event{
			Type:   capture.EventRecordFlushed,
			At:     time.Now(),
			Detail: fmt.Sprintf("%d frames to %s", n, dir),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"dir": dir, "frames": n})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write json response", "err", err)
	}
}

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"strzcam.com/screencaster/config"
	"strzcam.com/screencaster/frame"
	"strzcam.com/screencaster/observe"
	"strzcam.com/screencaster/record"
)

// ErrAlreadyRunning is returned by Start when a session is active.
var ErrAlreadyRunning = fmt.Errorf("capture: a session is already active")

// ErrNotRunning is returned by Stop when no session is active.
var ErrNotRunning = fmt.Errorf("capture: no active session")

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	StartedAt time.Time `json:"started_at"`
	Pid       int       `json:"pid"`
	Command   string    `json:"command"`
}

// ManagerConfig holds the dependencies for a [Manager].
type ManagerConfig struct {
	Config *config.Config

	// Store receives every extracted frame. Required.
	Store frame.Store

	// Recorder, when non-nil, is offered every frame for the pre-record ring.
	Recorder *record.Recorder

	// Preview, when non-nil, receives decoded preview images, rate-limited
	// by the capacity-1 decode permit.
	Preview PreviewSink

	// Metrics, when non-nil, receives pipeline instrumentation.
	Metrics *observe.Metrics

	// Notify, when non-nil, is called for pipeline events. Must not block.
	Notify func(Event)
}

// Manager is the session control surface: it owns the single active capture
// session and its producer process. All exported methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	active   bool
	info     SessionInfo
	producer *Producer
	session  *Session
	cancel   context.CancelFunc

	cfg      *config.Config
	store    frame.Store
	recorder *record.Recorder
	preview  PreviewSink
	metrics  *observe.Metrics
	notify   func(Event)
}

// NewManager creates a Manager with the given dependencies.
func NewManager(mc ManagerConfig) *Manager {
	return &Manager{
		cfg:      mc.Config,
		store:    mc.Store,
		recorder: mc.Recorder,
		preview:  mc.Preview,
		metrics:  mc.Metrics,
		notify:   mc.Notify,
	}
}

// Start launches the producer and begins the capture loop. A launch failure
// is returned to the caller and leaves no session behind. Returns
// ErrAlreadyRunning when a session is active.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return ErrAlreadyRunning
	}

	producer, err := StartProducer(m.cfg.Producer)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	opts := sessionOptions{
		store:        m.store,
		recorder:     m.recorder,
		preview:      m.preview,
		readChunk:    m.cfg.Capture.ReadChunkBytes,
		maxBuffer:    m.cfg.Capture.MaxBufferBytes,
		metrics:      m.metrics,
		notify:       m.emit,
	}
	if m.cfg.Preview.Enabled {
		opts.previewWidth = m.cfg.Preview.TargetWidth
	} else {
		opts.preview = nil
	}

	sess := newSession(producer, opts)
	go sess.run()

	// The producer exiting on its own also ends the session; fold that back
	// into the manager state so Active() reflects reality.
	go func() {
		<-sess.Done()
		m.sessionEnded(sess)
	}()

	m.active = true
	m.producer = producer
	m.session = sess
	m.cancel = sess.cancel
	m.info = SessionInfo{
		StartedAt: time.Now(),
		Pid:       producer.Pid(),
		Command:   m.cfg.Producer.Command,
	}

	if m.metrics != nil {
		m.metrics.SessionUp(context.Background())
	}
	m.emit(Event{Type: EventSessionStarted, At: m.info.StartedAt})
	slog.Info("capture session started", "pid", m.info.Pid, "command", m.info.Command)
	return nil
}

// Stop ends the active session: cancels the loop, stops the producer in two
// phases, and waits for the loop goroutine. Returns ErrNotRunning when no
// session is active. After Stop returns the producer process is gone.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrNotRunning
	}
	producer := m.producer
	sess := m.session
	cancel := m.cancel
	stopTimeout := m.cfg.Producer.StopTimeout.Std()
	m.mu.Unlock()

	cancel()
	if err := producer.Stop(stopTimeout); err != nil {
		slog.Warn("producer stop", "err", err)
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		return fmt.Errorf("stop session: %w", ctx.Err())
	}

	m.sessionEnded(sess)
	return nil
}

// sessionEnded clears manager state for sess. Both Stop and the
// producer-exit watcher funnel through here; only the first caller wins.
func (m *Manager) sessionEnded(sess *Session) {
	m.mu.Lock()
	if !m.active || m.session != sess {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.producer = nil
	m.session = nil
	m.cancel = nil
	m.info = SessionInfo{}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionDown(context.Background())
	}
	m.emit(Event{Type: EventSessionStopped, At: time.Now()})
	slog.Info("capture session stopped")
}

// Active reports whether a session is currently running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns metadata about the active session, or the zero value when
// none is running.
func (m *Manager) Info() SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Stats returns the active session's counters, all zero when idle.
func (m *Manager) Stats() (frames, bytes, desyncs uint64) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return 0, 0, 0
	}
	return sess.Stats()
}

func (m *Manager) emit(ev Event) {
	if m.notify != nil {
		m.notify(ev)
	}
}

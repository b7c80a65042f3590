package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"strzcam.com/screencaster/config"
)

// ErrStopTimeout reports that the producer ignored the graceful quit signal
// and had to be killed. The process is gone either way; callers log this and
// move on.
var ErrStopTimeout = errors.New("capture: producer did not exit in time, killed")

// ProducerState tracks the shutdown state machine of the encoder process.
type ProducerState int

const (
	StateRunning ProducerState = iota
	StateStopRequested
	StateExited
	StateForceKilled
)

func (s ProducerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop-requested"
	case StateExited:
		return "exited"
	case StateForceKilled:
		return "force-killed"
	}
	return "unknown"
}

// Producer wraps the external capture encoder process. Its stdout is the
// raw MJPEG byte stream, its stdin carries only the graceful quit keystroke,
// and its stderr is drained continuously into the log so the encoder never
// blocks on a full pipe.
type Producer struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser

	mu      sync.Mutex
	state   ProducerState
	done    chan struct{}
	waitErr error
}

// buildArgs derives an ffmpeg-style MJPEG-on-stdout invocation from cfg.
// An explicit Args list wins over the derived one.
func buildArgs(cfg config.ProducerConfig) []string {
	if len(cfg.Args) > 0 {
		return cfg.Args
	}
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(cfg.FrameRate),
		"-i", cfg.Display,
	}
	if cfg.ScaleWidth > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-1", cfg.ScaleWidth))
	}
	args = append(args,
		"-q:v", strconv.Itoa(cfg.Quality),
		"-f", "mjpeg", "-",
	)
	return args
}

// StartProducer launches the capture encoder described by cfg. A failure
// here is fatal to session start; it is returned to the caller instead of
// being retried.
func StartProducer(cfg config.ProducerConfig) (*Producer, error) {
	cmd := exec.Command(cfg.Command, buildArgs(cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: launch %q: %w", cfg.Command, err)
	}

	p := &Producer{
		cmd:    cmd,
		stdout: stdout,
		stdin:  stdin,
		state:  StateRunning,
		done:   make(chan struct{}),
	}

	go p.drainStderr(stderr)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	slog.Info("producer started", "command", cfg.Command, "pid", cmd.Process.Pid)
	return p, nil
}

// drainStderr forwards encoder diagnostics to the log line by line. The
// content is never parsed for control decisions.
func (p *Producer) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		slog.Debug("producer stderr", "line", sc.Text())
	}
}

// Read reads the next available stdout bytes. It returns io.EOF when the
// encoder closes its output or exits.
func (p *Producer) Read(buf []byte) (int, error) {
	return p.stdout.Read(buf)
}

// Pid returns the encoder's process ID.
func (p *Producer) Pid() int { return p.cmd.Process.Pid }

// State returns the current shutdown state.
func (p *Producer) State() ProducerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once the encoder process has been reaped.
func (p *Producer) Done() <-chan struct{} { return p.done }

// Running reports whether the encoder process is still alive.
func (p *Producer) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop shuts the encoder down in two phases: write the quit keystroke to its
// stdin and close it, wait up to timeout, then kill. The encoder may hold
// OS capture handles that only release on a graceful exit, but a wedged
// encoder must never stall shutdown.
//
// Returns ErrStopTimeout when the kill path was taken, nil otherwise.
func (p *Producer) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.state = StateStopRequested
	p.mu.Unlock()

	// Quit keystroke, then EOF. Errors here just mean the process beat us
	// to the exit.
	_, _ = io.WriteString(p.stdin, "q")
	_ = p.stdin.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		p.setState(StateExited)
		slog.Info("producer exited gracefully", "pid", p.Pid())
		return nil
	case <-timer.C:
		_ = p.cmd.Process.Kill()
		<-p.done
		p.setState(StateForceKilled)
		slog.Warn("producer killed after stop timeout", "pid", p.Pid(), "timeout", timeout)
		return ErrStopTimeout
	}
}

func (p *Producer) setState(s ProducerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

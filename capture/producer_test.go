package capture

import (
	"errors"
	"strings"
	"testing"
	"time"

	"strzcam.com/screencaster/config"
)

func shCfg(script string) config.ProducerConfig {
	return config.ProducerConfig{Command: "/bin/sh", Args: []string{"-c", script}}
}

func TestStopGraceful(t *testing.T) {
	p, err := StartProducer(shCfg("read x; exit 0"))
	if err != nil {
		t.Fatal(err)
	}
	if !p.Running() {
		t.Fatal("producer not running after start")
	}
	if got := p.State(); got != StateRunning {
		t.Fatalf("state = %v, want running", got)
	}

	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("graceful stop returned %v", err)
	}
	if got := p.State(); got != StateExited {
		t.Errorf("state = %v, want exited", got)
	}
	if p.Running() {
		t.Error("producer still running after stop")
	}
}

func TestStopForcesKillAfterTimeout(t *testing.T) {
	p, err := StartProducer(shCfg("while :; do sleep 0.05; done"))
	if err != nil {
		t.Fatal(err)
	}

	err = p.Stop(100 * time.Millisecond)
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("stop returned %v, want ErrStopTimeout", err)
	}
	if got := p.State(); got != StateForceKilled {
		t.Errorf("state = %v, want force-killed", got)
	}
	if p.Running() {
		t.Error("producer still running after kill")
	}
}

func TestStopAfterSelfExit(t *testing.T) {
	p, err := StartProducer(shCfg("exit 0"))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not exit")
	}
	// Stop on an already-gone process is a no-op, not an error.
	if err := p.Stop(time.Second); err != nil {
		t.Errorf("stop after exit returned %v", err)
	}
}

func TestLaunchFailure(t *testing.T) {
	_, err := StartProducer(config.ProducerConfig{Command: "/nonexistent/encoder-binary"})
	if err == nil {
		t.Fatal("expected launch error for nonexistent command")
	}
	if !strings.Contains(err.Error(), "launch") {
		t.Errorf("error %q does not identify the launch phase", err)
	}
}

func TestReadStreamsStdout(t *testing.T) {
	p, err := StartProducer(shCfg("printf hello; read x"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Stop(time.Second)

	buf := make([]byte, 16)
	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "hello" {
		t.Errorf("read %q, want %q", got, "hello")
	}
}

func TestBuildArgsDerived(t *testing.T) {
	args := buildArgs(config.ProducerConfig{
		Display:    ":0.0",
		FrameRate:  15,
		Quality:    5,
		ScaleWidth: 1280,
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{"x11grab", "-framerate 15", "-i :0.0", "scale=1280:-1", "-f mjpeg -"} {
		if !strings.Contains(joined, want) {
			t.Errorf("derived args %q missing %q", joined, want)
		}
	}
}

func TestBuildArgsExplicitWins(t *testing.T) {
	args := buildArgs(config.ProducerConfig{
		Display: ":0.0",
		Args:    []string{"--custom", "flags"},
	})
	if len(args) != 2 || args[0] != "--custom" {
		t.Errorf("explicit args not honored: %v", args)
	}
}

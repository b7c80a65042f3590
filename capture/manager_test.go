package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"strzcam.com/screencaster/config"
	"strzcam.com/screencaster/frame"
)

func managerCfg(script string) *config.Config {
	cfg := config.Default()
	cfg.Producer.Command = "/bin/sh"
	cfg.Producer.Args = []string{"-c", script}
	cfg.Producer.StopTimeout = config.Duration(time.Second)
	return cfg
}

func TestManagerLifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []EventType
	store := frame.NewStore()
	mgr := NewManager(ManagerConfig{
		Config: managerCfg(`printf 'AAAA\377\331'; read x`),
		Store:  store,
		Notify: func(ev Event) {
			mu.Lock()
			events = append(events, ev.Type)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	if err := mgr.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stop before start returned %v, want ErrNotRunning", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("double start returned %v, want ErrAlreadyRunning", err)
	}

	if !mgr.Active() {
		t.Error("manager inactive after start")
	}
	info := mgr.Info()
	if info.Pid <= 0 || info.Command != "/bin/sh" || info.StartedAt.IsZero() {
		t.Errorf("unexpected session info %+v", info)
	}

	waitFor(t, "frame extracted", func() bool {
		return store.Snapshot() != nil
	})
	if frames, n, _ := mgr.Stats(); frames != 1 || n == 0 {
		t.Errorf("stats frames=%d bytes=%d, want 1 frame", frames, n)
	}

	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("stop returned %v", err)
	}
	if mgr.Active() {
		t.Error("manager active after stop")
	}
	if info := mgr.Info(); info.Pid != 0 {
		t.Errorf("info not cleared after stop: %+v", info)
	}
	if frames, _, _ := mgr.Stats(); frames != 0 {
		t.Errorf("stats after stop = %d frames, want 0", frames)
	}
	if err := mgr.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second stop returned %v, want ErrNotRunning", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != EventSessionStarted || events[1] != EventSessionStopped {
		t.Errorf("events = %v, want started then stopped", events)
	}
}

func TestManagerFoldsProducerSelfExit(t *testing.T) {
	store := frame.NewStore()
	mgr := NewManager(ManagerConfig{
		Config: managerCfg(`printf 'AAAA\377\331'; exit 0`),
		Store:  store,
	})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The producer exits on its own; the manager must notice without Stop.
	waitFor(t, "manager to go inactive", func() bool {
		return !mgr.Active()
	})
	if err := mgr.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("stop after self-exit returned %v, want ErrNotRunning", err)
	}
	if store.Snapshot() == nil {
		t.Error("frame emitted before exit was not published")
	}
}

func TestManagerStartFailureLeavesNoSession(t *testing.T) {
	cfg := config.Default()
	cfg.Producer.Command = "/nonexistent/encoder-binary"
	mgr := NewManager(ManagerConfig{Config: cfg, Store: frame.NewStore()})

	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected launch error")
	}
	if mgr.Active() {
		t.Error("manager active after failed start")
	}
	// A later start with a working producer must succeed.
	mgr2 := NewManager(ManagerConfig{
		Config: managerCfg("read x"),
		Store:  frame.NewStore(),
	})
	if err := mgr2.Start(context.Background()); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
	mgr2.Stop(context.Background())
}

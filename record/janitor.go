package record

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// sweepInterval is the fallback cadence for cap enforcement when no
// filesystem events arrive.
const sweepInterval = 10 * time.Minute

// Janitor keeps the spool directory under its size cap. It reacts to
// filesystem events on the spool root and additionally sweeps on a timer;
// the oldest date directories go first.
type Janitor struct {
	dir      string
	maxBytes int64
	watcher  *fsnotify.Watcher
}

// NewJanitor creates a Janitor for dir, creating it if needed.
func NewJanitor(dir string, maxBytes int64) (*Janitor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: create spool dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("record: fsnotify: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("record: watch %s: %w", dir, err)
	}
	return &Janitor{dir: dir, maxBytes: maxBytes, watcher: watcher}, nil
}

// Run services events until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	defer j.watcher.Close()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	j.sweep()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-j.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				j.sweep()
			}
		case err, ok := <-j.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("spool watcher error", "err", err)
		case <-ticker.C:
			j.sweep()
		}
	}
}

// sweep removes oldest date directories until the spool fits the cap.
func (j *Janitor) sweep() {
	for {
		size, err := DirSize(j.dir)
		if err != nil {
			slog.Warn("spool size check failed", "dir", j.dir, "err", err)
			return
		}
		if size <= j.maxBytes {
			return
		}
		removed, err := removeOldestDir(j.dir)
		if err != nil {
			slog.Warn("spool cleanup failed", "dir", j.dir, "err", err)
			return
		}
		if !removed {
			return
		}
		slog.Info("spool over cap, removed oldest flush directory", "dir", j.dir, "size", size, "cap", j.maxBytes)
	}
}

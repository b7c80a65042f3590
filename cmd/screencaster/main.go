// Command screencaster serves a live MJPEG stream of an external screen
// capture encoder, with a session control API, optional pre-record spooling,
// and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"strzcam.com/screencaster/capture"
	"strzcam.com/screencaster/config"
	"strzcam.com/screencaster/frame"
	"strzcam.com/screencaster/observe"
	"strzcam.com/screencaster/record"
	"strzcam.com/screencaster/server"
)

const shutdownTimeout = 10 * time.Second

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "start a capture session immediately")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	if err := run(cfg, *autostart); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, autostart bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return fmt.Errorf("init metrics provider: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsShutdown(sctx); err != nil {
			slog.Warn("metrics provider shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	store := frame.NewStore()
	hub := server.NewHub()

	var recorder *record.Recorder
	var janitor *record.Janitor
	if cfg.Record.Enabled {
		recorder = record.NewRecorder(cfg.Record.Dir, cfg.Record.RingFrames)
		janitor, err = record.NewJanitor(cfg.Record.Dir, cfg.Record.MaxDirBytes)
		if err != nil {
			return fmt.Errorf("record janitor: %w", err)
		}
	}

	manager := capture.NewManager(capture.ManagerConfig{
		Config:   cfg,
		Store:    store,
		Recorder: recorder,
		Metrics:  metrics,
		Notify:   hub.Broadcast,
	})

	srv := server.New(server.Config{
		Store:            store,
		Manager:          manager,
		Recorder:         recorder,
		Metrics:          metrics,
		Hub:              hub,
		MinFrameInterval: cfg.Stream.MinFrameInterval.Std(),
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Routes(),
		// Stream loops watch this context so viewer connections drain on
		// shutdown instead of holding the server open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	if autostart {
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if janitor != nil {
		g.Go(func() error {
			if err := janitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Stop(sctx); err != nil && !errors.Is(err, capture.ErrNotRunning) {
			slog.Warn("session stop on shutdown", "err", err)
		}
		return httpServer.Shutdown(sctx)
	})

	return g.Wait()
}

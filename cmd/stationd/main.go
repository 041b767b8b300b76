// cmd/stationd/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/camera"
	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/controller"
	"github.com/tamzrod/station-bridge/internal/metrics"
	"github.com/tamzrod/station-bridge/internal/mirror"
	"github.com/tamzrod/station-bridge/internal/plc"
	"github.com/tamzrod/station-bridge/internal/push"
	"github.com/tamzrod/station-bridge/internal/scanner"
	"github.com/tamzrod/station-bridge/internal/state"
	"github.com/tamzrod/station-bridge/internal/status"
	"github.com/tamzrod/station-bridge/internal/uplink"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: stationd <config.yaml>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1]); err != nil {
		slog.Error("stationd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Station.ConfigDB != nil && cfg.Station.ConfigDB.Path != "" {
		if err := config.LoadFromDB(ctx, cfg.Station.ConfigDB.Path, cfg); err != nil {
			return err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	st := cfg.Station

	log := newLogger(st.Log)
	slog.SetDefault(log)
	log.Info("station bridge starting", "config", cfgPath, "plc", st.PLC.Endpoint)

	// --------------------
	// Metrics (opt-in)
	// --------------------

	var reg *prometheus.Registry
	if st.Metrics != nil {
		reg = metrics.NewRegistry()
	}
	m := metrics.New(reg)

	var wg sync.WaitGroup
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Debug("goroutine exited", "name", name)
		}()
	}

	if reg != nil {
		spawn("metrics", func() {
			if err := metrics.Serve(ctx, st.Metrics.Listen, st.Metrics.Path, reg, log); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		})
	}

	// --------------------
	// Core: bus, store, plc
	// --------------------

	b := bus.New()

	store, err := state.Open(st.State, log, m)
	if err != nil {
		return err
	}
	defer store.Close()

	tracker := status.NewTracker()

	client, err := plc.Build(st, b, tracker, m, log)
	if err != nil {
		return err
	}
	startAddr, count := client.Range()
	log.Info("plc read range", "start", startAddr, "count", count)

	// --------------------
	// Outbound: push hub, uplink, mirror
	// --------------------

	hub, err := push.New(push.Config{
		Listen:            st.Push.Listen,
		Path:              st.Push.Path,
		HeartbeatInterval: time.Duration(st.Push.HeartbeatIntervalMs) * time.Millisecond,
		InboundRate:       st.Push.InboundRate,
		InboundBurst:      st.Push.InboundBurst,
		Metrics:           m,
		Logger:            log,
	}, b)
	if err != nil {
		return err
	}

	out := controller.Fanout{hub}
	if st.Uplink != nil {
		up, err := uplink.Connect(*st.Uplink, m, log)
		if err != nil {
			return err
		}
		defer up.Close()
		out = append(out, up)
	}

	var sink controller.PointsSink
	if st.Mirror != nil {
		mr, err := mirror.New(*st.Mirror, tracker, log)
		if err != nil {
			return err
		}
		sink = mr
		spawn("mirror", func() { mr.Run(ctx) })
	}

	ctl, err := controller.New(controller.Config{
		Bus:         b,
		Store:       store,
		PLC:         client,
		Points:      st.Points,
		Offline:     controller.NewOfflineCache(st.OfflineCache.Path),
		Broadcaster: out,
		Mirror:      sink,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	// --------------------
	// Producers
	// --------------------

	cams, err := camera.New(camera.Config{
		Listen:      st.Cameras.Listen,
		IdleTimeout: time.Duration(st.Cameras.IdleTimeoutMs) * time.Millisecond,
		Mapping:     st.Cameras.Mapping,
		Logger:      log,
	}, b)
	if err != nil {
		return err
	}

	if st.Scanner != nil {
		dev, err := scanner.NewDevice(*st.Scanner, b, log)
		if err != nil {
			return err
		}
		spawn("scanner", func() { dev.Run(ctx) })
	}

	// --------------------
	// Run until signalled
	// --------------------

	ctlDone := make(chan struct{})
	go func() {
		defer close(ctlDone)
		ctl.Run()
	}()

	spawn("plc", func() { client.Run(ctx) })
	spawn("camera", func() {
		if err := cams.Run(ctx); err != nil {
			log.Error("camera listener failed", "error", err)
		}
	})
	spawn("push", func() {
		if err := hub.Run(ctx); err != nil {
			log.Error("push channel failed", "error", err)
		}
	})

	<-ctx.Done()
	log.Info("shutting down")

	wg.Wait()
	b.Stop()
	<-ctlDone

	log.Info("station bridge stopped", "journal_events", store.JournalLen())
	return nil
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

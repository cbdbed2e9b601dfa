package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"vision-worker/internal/chartdata"
	"vision-worker/internal/config"
	"vision-worker/internal/debug/eventbus"
	"vision-worker/internal/debug/memtracker"
	"vision-worker/internal/debug/timing"
	"vision-worker/internal/engine"
	"vision-worker/internal/gate"
	"vision-worker/internal/logger"
	"vision-worker/internal/protocol"
	"vision-worker/internal/shutdown"
	"vision-worker/internal/worker"
)

const (
	AppName    = "vision-worker"
	AppVersion = "1.0.0"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args, os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	configureRuntime()

	appLogger := logger.New(cfg.LogLevel, cfg.JSONLogs)
	appLogger.Info("Main", "worker starting", map[string]interface{}{
		"version":       AppVersion,
		"mode":          string(cfg.Mode),
		"go_version":    runtime.Version(),
		"load_timeout":  cfg.LoadTimeout.String(),
		"poll_interval": cfg.PollInterval.String(),
		"warmup":        cfg.Warmup.String(),
		"notify":        cfg.Notify,
		"log_level":     cfg.LogLevel.String(),
	})

	shutdownMgr := shutdown.NewManager(context.Background(), appLogger)
	shutdownMgr.Listen()
	defer shutdownMgr.Shutdown()

	bus := eventbus.NewBus(cfg.EventBuffer, eventbus.WithLogger(appLogger))
	shutdownMgr.Register("event bus", bus.Shutdown)
	if cfg.LogLevel == logger.DebugLevel {
		subscribeDebugLogging(bus, appLogger)
	}

	var visionWorker *worker.Worker
	var tracker *memtracker.Tracker
	if cfg.ServesVision() {
		tracker = memtracker.NewTracker(bus, false)

		var eng engine.Engine = engine.NewGoCV(
			engine.WithWarmup(cfg.Warmup),
			engine.WithLogger(appLogger),
		)
		if !cfg.Notify {
			eng = engine.Polled(eng)
		}

		readiness := gate.New(eng, cfg.LoadTimeout, cfg.PollInterval, appLogger)
		dispatcher := worker.NewDispatcher(tracker, appLogger, bus)
		visionWorker = worker.New(readiness, dispatcher, appLogger, bus)
	}

	var chartWorker *chartdata.Worker
	if cfg.ServesCharts() {
		seed := cfg.ChartSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		chartWorker = chartdata.NewWorker(chartdata.New(seed), appLogger)
	}

	server := protocol.NewServer(visionWorker, chartWorker, appLogger, cfg.MaxLineBytes)
	err = server.Serve(shutdownMgr.Context(), os.Stdin, os.Stdout)

	fields := map[string]interface{}{}
	if visionWorker != nil {
		stats := visionWorker.Stats()
		fields["processed"] = stats.Processed
		fields["failed"] = stats.Failed
		fields["dropped"] = stats.Dropped
		logTimings(appLogger, visionWorker.Timings())
	}
	if tracker != nil {
		mem := tracker.GetStats()
		fields["live_mats"] = mem.CurrentlyActive
		fields["mats_allocated"] = mem.AllocationCount
	}
	fields["events_dropped"] = bus.Dropped()
	fields["event_handler_panics"] = bus.Panics()
	appLogger.Info("Main", "worker stopped", fields)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// configureRuntime raises the GC target: pixel buffers are large and
// short-lived.
func configureRuntime() {
	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(200)
	}
}

func logTimings(log logger.Logger, timings *timing.Tracker) {
	for _, op := range timings.Operations() {
		s := timings.Summary(op)
		log.Info("Main", "filter latency", map[string]interface{}{
			"filter":  op,
			"count":   s.Count,
			"average": s.Average.String(),
			"max":     s.Max.String(),
		})
	}
}

func subscribeDebugLogging(bus *eventbus.Bus, log logger.Logger) {
	types := []string{
		eventbus.TypeMatAllocated,
		eventbus.TypeMatReleased,
		eventbus.TypeMatUntracked,
		eventbus.TypeRequestDropped,
		eventbus.TypeRequestCompleted,
		eventbus.TypeRequestFailed,
		eventbus.TypeEngineReady,
		eventbus.TypeEngineLoadTimeout,
		eventbus.TypeOperationTimed,
	}
	for _, t := range types {
		bus.Subscribe(t, func(ev eventbus.Event) {
			fields := make(map[string]interface{}, len(ev.Data)+1)
			for k, v := range ev.Data {
				fields[k] = v
			}
			fields["at"] = ev.Timestamp.Format(time.RFC3339Nano)
			log.Debug("Events", ev.Type, fields)
		})
	}
}

package worker

import (
	"fmt"
	"sync/atomic"

	"vision-worker/internal/debug/eventbus"
	"vision-worker/internal/debug/memtracker"
	"vision-worker/internal/debug/timing"
	"vision-worker/internal/logger"
	"vision-worker/internal/opencv/conversion"
	"vision-worker/internal/opencv/memory"
	"vision-worker/internal/opencv/safe"
	"vision-worker/internal/processing/filters"
)

// Publisher receives debug events; *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(event eventbus.Event)
}

type Stats struct {
	Processed uint64
	Failed    uint64
	Dropped   uint64
}

// Dispatcher turns a FilterRequest into exactly one Event, or drops it
// when the engine is not ready yet. It is not safe for concurrent Handle
// calls; the Worker serialises them.
type Dispatcher struct {
	tracker *memtracker.Tracker
	timings *timing.Tracker
	log     logger.Logger
	events  Publisher

	// apply is filters.Apply; tests substitute it
	apply func(scope *memory.Scope, src, dst, temp *safe.Mat, kind filters.Kind) error

	ready     atomic.Bool
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewDispatcher(tracker *memtracker.Tracker, log logger.Logger, events Publisher) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	if tracker == nil {
		tracker = memtracker.NewTracker(nil, false)
	}
	return &Dispatcher{
		tracker: tracker,
		timings: timing.NewTracker(events, timing.DefaultWindow),
		apply:   filters.Apply,
		log:     log,
		events:  events,
	}
}

// Timings holds per-filter latencies of successful requests.
func (d *Dispatcher) Timings() *timing.Tracker {
	return d.timings
}

// MarkReady opens the dispatcher. There is no way back.
func (d *Dispatcher) MarkReady() {
	d.ready.Store(true)
}

func (d *Dispatcher) Ready() bool {
	return d.ready.Load()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Handle services req. ok is false when the request was dropped because
// the engine is not ready; nothing must be emitted in that case.
func (d *Dispatcher) Handle(req FilterRequest) (ev Event, ok bool) {
	if !d.ready.Load() {
		d.dropped.Add(1)
		d.log.Debug("Dispatcher", "request dropped, engine not ready", map[string]interface{}{
			"filter": req.Kind.String(),
		})
		d.publish(eventbus.TypeRequestDropped, map[string]interface{}{"filter": req.Kind.String()})
		return Event{}, false
	}

	stop := d.timings.Start(req.Kind.String())
	resp, err := d.process(req)
	if err != nil {
		d.failed.Add(1)
		d.log.Error("Dispatcher", err, map[string]interface{}{
			"filter": req.Kind.String(),
			"width":  req.Width,
			"height": req.Height,
		})
		d.publish(eventbus.TypeRequestFailed, map[string]interface{}{
			"filter": req.Kind.String(),
			"error":  err.Error(),
		})
		return Failure(err.Error()), true
	}

	d.processed.Add(1)
	d.publish(eventbus.TypeRequestCompleted, map[string]interface{}{
		"filter":   req.Kind.String(),
		"width":    req.Width,
		"height":   req.Height,
		"duration": stop().String(),
	})
	return Result(resp), true
}

// process owns the request scope. Release is deferred before anything is
// allocated and runs after the panic guard, so every matrix is closed on
// success, on error and on panic.
func (d *Dispatcher) process(req FilterRequest) (resp FilterResponse, err error) {
	scope := memory.NewScope(d.tracker)
	defer func() {
		released := scope.Release()
		d.log.Debug("Dispatcher", "request scope released", map[string]interface{}{
			"mats": released,
		})
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panic: %v", r)
		}
	}()

	src, err := conversion.DecodeRGBA(scope, req.Width, req.Height, req.Pixels)
	if err != nil {
		return FilterResponse{}, err
	}
	dst, err := scope.Empty("dst")
	if err != nil {
		return FilterResponse{}, err
	}
	temp, err := scope.Empty("temp")
	if err != nil {
		return FilterResponse{}, err
	}

	if err := d.apply(scope, src, dst, temp, req.Kind); err != nil {
		return FilterResponse{}, err
	}

	return encode(dst, req.Width, req.Height)
}

func (d *Dispatcher) publish(eventType string, data map[string]interface{}) {
	if d.events == nil {
		return
	}
	d.events.Publish(eventbus.Event{Type: eventType, Data: data})
}

package worker

import (
	"context"

	"vision-worker/internal/debug/eventbus"
	"vision-worker/internal/debug/timing"
	"vision-worker/internal/gate"
	"vision-worker/internal/logger"
)

// Worker is the vision actor. Run owns a single goroutine that handles
// requests one at a time and emits events in request order. The readiness
// wait runs alongside; its outcome is delivered into the same loop so the
// LOADED event and the switch to accepting work happen together.
type Worker struct {
	gate       *gate.Gate
	dispatcher *Dispatcher
	log        logger.Logger
	events     Publisher
}

func New(g *gate.Gate, dispatcher *Dispatcher, log logger.Logger, events Publisher) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		gate:       g,
		dispatcher: dispatcher,
		log:        log,
		events:     events,
	}
}

func (w *Worker) Stats() Stats {
	return w.dispatcher.Stats()
}

func (w *Worker) Timings() *timing.Tracker {
	return w.dispatcher.Timings()
}

// Run processes inbox until it is closed or ctx is done. emit is only ever
// called from the Run goroutine.
func (w *Worker) Run(ctx context.Context, inbox <-chan FilterRequest, emit func(Event)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.log.Info("Worker", "vision worker started", nil)

	// An engine that is usable at the first check resolves before any
	// message is read; otherwise the wait proceeds in the background and
	// requests arriving meanwhile are dropped.
	readiness := make(chan gate.Result, 1)
	if w.gate.EngineUsable() {
		if res, first := w.gate.Wait(ctx); first {
			w.resolve(res, emit)
		}
		readiness = nil
	} else {
		go func(out chan<- gate.Result) {
			if res, first := w.gate.Wait(ctx); first {
				out <- res
			}
		}(readiness)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-readiness:
			readiness = nil
			w.resolve(res, emit)

		case req, ok := <-inbox:
			if !ok {
				stats := w.Stats()
				w.log.Info("Worker", "inbox closed", map[string]interface{}{
					"processed": stats.Processed,
					"failed":    stats.Failed,
					"dropped":   stats.Dropped,
				})
				return nil
			}
			if ev, ok := w.dispatcher.Handle(req); ok {
				emit(ev)
			}
		}
	}
}

func (w *Worker) resolve(res gate.Result, emit func(Event)) {
	if res == gate.Ready {
		w.dispatcher.MarkReady()
		w.publish(eventbus.TypeEngineReady)
		emit(Loaded())
		return
	}

	// no retry: the worker stays unavailable for the rest of its life
	w.log.Error("Worker", gate.ErrEngineTimeout, nil)
	w.publish(eventbus.TypeEngineLoadTimeout)
	emit(Failure(gate.ErrEngineTimeout.Error()))
}

func (w *Worker) publish(eventType string) {
	if w.events == nil {
		return
	}
	w.events.Publish(eventbus.Event{Type: eventType})
}

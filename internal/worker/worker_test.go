package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"vision-worker/internal/gate"
	"vision-worker/internal/processing/filters"
)

type switchEngine struct {
	usable atomic.Bool
}

func (e *switchEngine) Name() string { return "switch" }
func (e *switchEngine) Usable() bool { return e.usable.Load() }

type harness struct {
	inbox  chan FilterRequest
	events chan Event
	done   chan error
	worker *Worker
	cancel context.CancelFunc
}

func start(t *testing.T, eng *switchEngine, timeout time.Duration) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	g := gate.New(eng, timeout, time.Millisecond, nil)
	w := New(g, NewDispatcher(nil, nil, nil), nil, nil)

	h := &harness{
		inbox:  make(chan FilterRequest),
		events: make(chan Event, 16),
		done:   make(chan error, 1),
		worker: w,
		cancel: cancel,
	}
	go func() {
		h.done <- w.Run(ctx, h.inbox, func(ev Event) { h.events <- ev })
	}()
	t.Cleanup(cancel)
	return h
}

func (h *harness) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
		return Event{}
	}
}

func (h *harness) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.events:
		t.Fatalf("Unexpected event %v %q", ev.Kind, ev.Message)
	default:
	}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	close(h.inbox)
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after inbox closed")
	}
}

func request() FilterRequest {
	return FilterRequest{Width: 2, Height: 2, Pixels: opaque(2, 2), Kind: filters.Sharpen}
}

func TestRunLoadedFirst(t *testing.T) {
	eng := &switchEngine{}
	eng.usable.Store(true)
	h := start(t, eng, time.Second)

	h.inbox <- request()

	if ev := h.next(t); ev.Kind != EventLoaded {
		t.Fatalf("Expected LOADED first, got %v", ev.Kind)
	}
	if ev := h.next(t); ev.Kind != EventResult {
		t.Fatalf("Expected RESULT, got %v: %s", ev.Kind, ev.Message)
	}
	h.stop(t)
}

func TestRunDropsUntilReady(t *testing.T) {
	eng := &switchEngine{}
	h := start(t, eng, time.Minute)

	// an unbuffered send returns only once Run has taken the previous
	// request, so both are handled before the engine turns usable
	h.inbox <- request()
	h.inbox <- request()
	h.expectQuiet(t)

	eng.usable.Store(true)
	if ev := h.next(t); ev.Kind != EventLoaded {
		t.Fatalf("Expected LOADED, got %v", ev.Kind)
	}

	h.inbox <- request()
	if ev := h.next(t); ev.Kind != EventResult {
		t.Fatalf("Expected RESULT, got %v: %s", ev.Kind, ev.Message)
	}
	h.stop(t)

	stats := h.worker.Stats()
	if stats.Dropped != 2 || stats.Processed != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestRunLoadTimeout(t *testing.T) {
	h := start(t, &switchEngine{}, 10*time.Millisecond)

	ev := h.next(t)
	if ev.Kind != EventError || ev.Message != "engine load timeout" {
		t.Fatalf("Expected load timeout error, got %v %q", ev.Kind, ev.Message)
	}

	// still unavailable: requests vanish and no second error appears
	h.inbox <- request()
	h.inbox <- request()
	h.expectQuiet(t)
	h.stop(t)

	if got := h.worker.Stats().Dropped; got != 2 {
		t.Errorf("Expected 2 dropped, got %d", got)
	}
}

func TestRunCancelled(t *testing.T) {
	h := start(t, &switchEngine{}, time.Minute)
	h.cancel()

	select {
	case err := <-h.done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

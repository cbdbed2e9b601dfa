package worker

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"vision-worker/internal/debug/memtracker"
	"vision-worker/internal/opencv/memory"
	"vision-worker/internal/opencv/safe"
	"vision-worker/internal/processing/filters"
)

func opaque(w, h int) []byte {
	return bytes.Repeat([]byte{200, 100, 50, 255}, w*h)
}

func TestDispatcherDropsBeforeReady(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)

	if _, ok := d.Handle(FilterRequest{Width: 1, Height: 1, Pixels: opaque(1, 1)}); ok {
		t.Fatal("Expected request to be dropped before MarkReady")
	}
	if got := d.Stats().Dropped; got != 1 {
		t.Errorf("Expected 1 dropped, got %d", got)
	}
}

func TestDispatcherResults(t *testing.T) {
	tracker := memtracker.NewTracker(nil, false)
	d := NewDispatcher(tracker, nil, nil)
	d.MarkReady()

	for _, kind := range filters.Kinds() {
		ev, ok := d.Handle(FilterRequest{Width: 3, Height: 2, Pixels: opaque(3, 2), Kind: kind})
		if !ok {
			t.Fatalf("%s: request dropped after ready", kind)
		}
		if ev.Kind != EventResult {
			t.Fatalf("%s: expected RESULT, got %v (%s)", kind, ev.Kind, ev.Message)
		}
		if ev.Response.Width != 3 || ev.Response.Height != 2 || len(ev.Response.Pixels) != 24 {
			t.Errorf("%s: unexpected response shape %dx%d/%d", kind, ev.Response.Width, ev.Response.Height, len(ev.Response.Pixels))
		}
		if got := d.Timings().Summary(kind.String()).Count; got != 1 {
			t.Errorf("%s: expected one timing sample, got %d", kind, got)
		}
	}

	stats := tracker.GetStats()
	if stats.CurrentlyActive != 0 {
		t.Errorf("Expected no live matrices after requests, got %d", stats.CurrentlyActive)
	}
	if stats.AllocationCount == 0 {
		t.Error("Expected matrices to be tracked")
	}
}

// TestDispatcherRecoversAfterError checks a failing request leaves the
// dispatcher able to serve the next one.
func TestDispatcherRecoversAfterError(t *testing.T) {
	tracker := memtracker.NewTracker(nil, false)
	d := NewDispatcher(tracker, nil, nil)
	d.MarkReady()

	bad := []FilterRequest{
		{Width: 0, Height: 2, Pixels: nil, Kind: filters.Grayscale},
		{Width: 2, Height: 2, Pixels: opaque(1, 1), Kind: filters.Blur},
		{Width: -1, Height: -1, Kind: filters.Threshold},
	}
	for _, req := range bad {
		ev, ok := d.Handle(req)
		if !ok {
			t.Fatal("Error requests must not be dropped")
		}
		if ev.Kind != EventError || ev.Message == "" {
			t.Errorf("Expected ERROR with message for %dx%d, got %v", req.Width, req.Height, ev.Kind)
		}
	}

	pixels := []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 255, 255, 255, 255,
	}
	ev, _ := d.Handle(FilterRequest{Width: 2, Height: 2, Pixels: pixels, Kind: filters.Grayscale})
	if ev.Kind != EventResult {
		t.Fatalf("Expected RESULT after errors, got %v: %s", ev.Kind, ev.Message)
	}
	for i := 0; i < 16; i += 4 {
		p := ev.Response.Pixels[i : i+4]
		if p[0] != p[1] || p[1] != p[2] || p[3] != 255 {
			t.Errorf("Pixel %d not opaque gray: %v", i/4, p)
		}
	}

	stats := d.Stats()
	if stats.Failed != 3 || stats.Processed != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if active := tracker.GetStats().CurrentlyActive; active != 0 {
		t.Errorf("Expected no live matrices, got %d", active)
	}
}

func TestDimensionErrorMessage(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	d.MarkReady()

	ev, _ := d.Handle(FilterRequest{Width: 0, Height: 4})
	if !strings.Contains(ev.Message, "invalid dimensions") {
		t.Errorf("Expected dimension error, got %q", ev.Message)
	}
}

// TestDispatcherPanicReleasesScope checks a transform that panics after
// allocating still yields one ERROR and leaves no live matrices.
func TestDispatcherPanicReleasesScope(t *testing.T) {
	tracker := memtracker.NewTracker(nil, false)
	d := NewDispatcher(tracker, nil, nil)
	d.MarkReady()

	calls := 0
	d.apply = func(scope *memory.Scope, src, dst, temp *safe.Mat, kind filters.Kind) error {
		calls++
		if _, err := scope.Empty("mid_transform"); err != nil {
			return err
		}
		if _, err := scope.New(4, 4, gocv.MatTypeCV32FC1, "mid_kernel"); err != nil {
			return err
		}
		panic("native binding exploded")
	}

	ev, ok := d.Handle(FilterRequest{Width: 2, Height: 2, Pixels: opaque(2, 2), Kind: filters.Sharpen})
	if !ok {
		t.Fatal("Panicking request must not be dropped")
	}
	if ev.Kind != EventError {
		t.Fatalf("Expected ERROR, got %v", ev.Kind)
	}
	if !strings.Contains(ev.Message, "processing panic") || !strings.Contains(ev.Message, "native binding exploded") {
		t.Errorf("Unexpected error message %q", ev.Message)
	}
	if calls != 1 {
		t.Errorf("Expected the transform to run once, got %d", calls)
	}

	stats := tracker.GetStats()
	if stats.CurrentlyActive != 0 {
		t.Errorf("Expected no live matrices after panic, got %d", stats.CurrentlyActive)
	}
	// src, dst, temp and the two transform allocations
	if stats.ReleaseCount != 5 {
		t.Errorf("Expected 5 releases, got %d", stats.ReleaseCount)
	}

	d.apply = filters.Apply
	ev, _ = d.Handle(FilterRequest{Width: 2, Height: 2, Pixels: opaque(2, 2), Kind: filters.Grayscale})
	if ev.Kind != EventResult {
		t.Fatalf("Expected RESULT after a panic, got %v: %s", ev.Kind, ev.Message)
	}
	if got := d.Stats(); got.Failed != 1 || got.Processed != 1 {
		t.Errorf("Unexpected stats %+v", got)
	}
	if active := tracker.GetStats().CurrentlyActive; active != 0 {
		t.Errorf("Expected no live matrices, got %d", active)
	}
}

func TestDispatcherReadyFromOtherGoroutines(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = d.Ready()
			}
		}()
	}
	d.MarkReady()
	wg.Wait()

	if !d.Ready() {
		t.Error("Expected dispatcher to be ready")
	}
}

package memory

import (
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/safe"
)

type orderTracker struct {
	mu       sync.Mutex
	live     map[uint64]string
	released []string
}

func newOrderTracker() *orderTracker {
	return &orderTracker{live: make(map[uint64]string)}
}

func (o *orderTracker) TrackAllocation(id uint64, _ int64, tag string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live[id] = tag
}

func (o *orderTracker) TrackDeallocation(id uint64, tag string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.live, id)
	o.released = append(o.released, tag)
}

func TestReleaseClosesInReverseOrder(t *testing.T) {
	tracker := newOrderTracker()
	scope := NewScope(tracker)

	if _, err := scope.Empty("first"); err != nil {
		t.Fatal(err)
	}
	if _, err := scope.New(2, 2, gocv.MatTypeCV8UC4, "second"); err != nil {
		t.Fatal(err)
	}
	if _, err := scope.FromBytes(1, 1, gocv.MatTypeCV8UC4, []byte{1, 2, 3, 4}, "third"); err != nil {
		t.Fatal(err)
	}

	if got := scope.Held(); got != 3 {
		t.Fatalf("Expected 3 held, got %d", got)
	}

	if got := scope.Release(); got != 3 {
		t.Errorf("Expected Release to close 3, got %d", got)
	}

	want := []string{"third", "second", "first"}
	if len(tracker.released) != len(want) {
		t.Fatalf("Expected %v released, got %v", want, tracker.released)
	}
	for i := range want {
		if tracker.released[i] != want[i] {
			t.Errorf("Release %d: expected %s, got %s", i, want[i], tracker.released[i])
		}
	}
	if len(tracker.live) != 0 {
		t.Errorf("Expected no live matrices, got %v", tracker.live)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tracker := newOrderTracker()
	scope := NewScope(tracker)

	mat, err := scope.Empty("only")
	if err != nil {
		t.Fatal(err)
	}

	scope.Release()
	if got := scope.Release(); got != 0 {
		t.Errorf("Expected second Release to close nothing, got %d", got)
	}
	if len(tracker.released) != 1 {
		t.Errorf("Expected exactly one deallocation, got %d", len(tracker.released))
	}
	if mat.IsValid() {
		t.Error("Expected held matrix to be released")
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	tracker := newOrderTracker()
	scope := NewScope(tracker)
	scope.Release()

	if _, err := scope.Empty("late"); err == nil {
		t.Fatal("Expected error acquiring from a released scope")
	}
	if len(tracker.live) != 0 {
		t.Errorf("Late matrix leaked: %v", tracker.live)
	}
}

func TestInvalidShapeNotHeld(t *testing.T) {
	scope := NewScope(nil)
	defer scope.Release()

	if _, err := scope.New(0, 4, gocv.MatTypeCV8UC4, "zero"); err == nil {
		t.Error("Expected error for zero rows")
	}
	if _, err := scope.FromBytes(2, 2, gocv.MatTypeCV8UC4, []byte{1, 2, 3}, "short"); err == nil {
		t.Error("Expected error for short buffer")
	}
	if got := scope.Held(); got != 0 {
		t.Errorf("Expected nothing held, got %d", got)
	}
}

// TestReleaseOnPanic checks a deferred Release still closes everything
// when the holder panics.
func TestReleaseOnPanic(t *testing.T) {
	tracker := newOrderTracker()
	scope := NewScope(tracker)
	var held []*safe.Mat

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected a panic")
			}
		}()
		defer scope.Release()

		for _, tag := range []string{"src", "dst"} {
			mat, err := scope.Empty(tag)
			if err != nil {
				t.Fatal(err)
			}
			held = append(held, mat)
		}
		panic("transform failed")
	}()

	for _, mat := range held {
		if mat.IsValid() {
			t.Errorf("%s still valid after panic", mat.Tag())
		}
	}
	if len(tracker.released) != 2 || tracker.released[0] != "dst" {
		t.Errorf("Expected dst then src released, got %v", tracker.released)
	}
	if len(tracker.live) != 0 {
		t.Errorf("Expected no live matrices, got %v", tracker.live)
	}
	if got := scope.Release(); got != 0 {
		t.Errorf("Expected nothing left to release, got %d", got)
	}
}

package eventbus

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"vision-worker/internal/logger"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Shutdown()

	received := make(chan Event, 1)
	bus.Subscribe(TypeRequestCompleted, func(ev Event) {
		received <- ev
	})

	bus.Publish(Event{Type: TypeRequestCompleted, Data: map[string]interface{}{"filter": "GRAY"}})

	select {
	case ev := <-received:
		if ev.Data["filter"] != "GRAY" {
			t.Errorf("Expected filter GRAY, got %v", ev.Data["filter"])
		}
		if ev.Timestamp.IsZero() {
			t.Error("Expected Publish to stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestOtherTypesNotDelivered(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(TypeMatAllocated, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(Event{Type: TypeMatReleased})
	bus.Publish(Event{Type: TypeMatAllocated})
	bus.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("Expected 1 delivery, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	unsubscribe := bus.Subscribe(TypeEngineReady, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsubscribe()

	bus.Publish(Event{Type: TypeEngineReady})
	bus.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("Expected no delivery after unsubscribe, got %d", count)
	}
}

// TestNonBlockingPublish verifies a full buffer drops instead of blocking.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus(1)
	defer bus.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(TypeRequestDropped, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	// first event occupies the dispatcher
	bus.Publish(Event{Type: TypeRequestDropped})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Dispatcher never picked up the first event")
	}

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: TypeRequestDropped}) // fills the buffer
		bus.Publish(Event{Type: TypeRequestDropped}) // dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked")
	}
	close(release)

	if got := bus.Dropped(); got != 1 {
		t.Errorf("Expected 1 dropped event, got %d", got)
	}
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(10, WithLogger(logger.NewWithWriter(&buf, logger.ErrorLevel)))

	received := make(chan struct{}, 1)
	bus.Subscribe(TypeRequestFailed, func(Event) { panic("subscriber bug") })
	bus.Subscribe(TypeRequestFailed, func(Event) { received <- struct{}{} })

	bus.Publish(Event{Type: TypeRequestFailed})
	bus.Shutdown()

	select {
	case <-received:
	default:
		t.Fatal("Second handler did not run after the first panicked")
	}
	if got := bus.Panics(); got != 1 {
		t.Errorf("Expected 1 subscriber panic, got %d", got)
	}
	if out := buf.String(); !strings.Contains(out, "subscriber bug") || !strings.Contains(out, TypeRequestFailed) {
		t.Errorf("Expected the panic to be logged with its event type, got %q", out)
	}
}

func TestPanicsZeroWithoutFailures(t *testing.T) {
	bus := NewBus(10)
	bus.Subscribe(TypeEngineReady, func(Event) {})
	bus.Publish(Event{Type: TypeEngineReady})
	bus.Shutdown()

	if got := bus.Panics(); got != 0 {
		t.Errorf("Expected no panics, got %d", got)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	bus := NewBus(1)
	bus.Shutdown()
	bus.Shutdown()

	// publishing after shutdown is a no-op
	bus.Publish(Event{Type: TypeEngineReady})
}

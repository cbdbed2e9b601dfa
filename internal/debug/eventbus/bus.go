package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vision-worker/internal/logger"
)

// Event types published by the worker and the matrix tracker.
const (
	TypeMatAllocated      = "mat_allocated"
	TypeMatReleased       = "mat_released"
	TypeMatUntracked      = "mat_untracked_release"
	TypeRequestDropped    = "request_dropped"
	TypeRequestCompleted  = "request_completed"
	TypeRequestFailed     = "request_failed"
	TypeEngineReady       = "engine_ready"
	TypeEngineLoadTimeout = "engine_load_timeout"
	TypeOperationTimed    = "operation_timed"
)

type Event struct {
	Type      string
	Timestamp time.Time
	Data      map[string]interface{}
}

type HandlerFunc func(Event)

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// Bus fans events out to subscribers on a single dispatch goroutine.
// Publish never blocks; events are dropped when the buffer is full.
type Bus struct {
	subscribers map[string][]subscription
	mu          sync.RWMutex
	buffer      chan Event
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	nextID      uint64
	dropped     uint64
	panics      uint64
	log         logger.Logger
	closeOnce   sync.Once
}

type Option func(*Bus)

// WithLogger reports subscriber panics to log.
func WithLogger(log logger.Logger) Option {
	return func(b *Bus) { b.log = log }
}

func NewBus(bufferSize int, opts ...Option) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	bus := &Bus{
		subscribers: make(map[string][]subscription),
		buffer:      make(chan Event, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(bus)
	}

	bus.startWorker()
	return bus
}

func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.ctx.Done():
		return
	default:
	}

	select {
	case b.buffer <- event:
	default:
		atomic.AddUint64(&b.dropped, 1)
	}
}

// Subscribe registers handler for eventType and returns a function that
// removes it again.
func (b *Bus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Panics reports how many subscriber calls panicked.
func (b *Bus) Panics() uint64 {
	return atomic.LoadUint64(&b.panics)
}

// Shutdown drains events already buffered and stops the dispatcher.
func (b *Bus) Shutdown() {
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
	})
}

func (b *Bus) startWorker() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		for {
			select {
			case event := <-b.buffer:
				b.dispatchEvent(event)
			case <-b.ctx.Done():
				for {
					select {
					case event := <-b.buffer:
						b.dispatchEvent(event)
					default:
						return
					}
				}
			}
		}
	}()
}

func (b *Bus) dispatchEvent(event Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[event.Type]))
	copy(subs, b.subscribers[event.Type])
	b.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&b.panics, 1)
					b.log.Error("EventBus", fmt.Errorf("subscriber panic: %v", r), map[string]interface{}{
						"event": event.Type,
					})
				}
			}()
			s.handler(event)
		}()
	}
}

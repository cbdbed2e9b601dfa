package timing

import (
	"sort"
	"sync"
	"time"

	"vision-worker/internal/debug/eventbus"
)

// DefaultWindow is how many recent samples are kept per operation.
const DefaultWindow = 256

type EventPublisher interface {
	Publish(event eventbus.Event)
}

// Summary describes the retained samples of one operation. Count is the
// lifetime number of observations, the rest cover the window only.
type Summary struct {
	Count   uint64
	Average time.Duration
	Max     time.Duration
}

type series struct {
	samples []time.Duration
	next    int
	count   uint64
}

// Tracker keeps a sliding window of durations per operation name.
type Tracker struct {
	timings  map[string]*series
	mu       sync.RWMutex
	eventBus EventPublisher
	window   int
}

func NewTracker(eventBus EventPublisher, window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		timings:  make(map[string]*series),
		eventBus: eventBus,
		window:   window,
	}
}

// Start returns a function that records the elapsed time under operation
// when called.
func (tt *Tracker) Start(operation string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		tt.Observe(operation, d)
		return d
	}
}

func (tt *Tracker) Observe(operation string, d time.Duration) {
	tt.mu.Lock()
	s, ok := tt.timings[operation]
	if !ok {
		s = &series{samples: make([]time.Duration, 0, tt.window)}
		tt.timings[operation] = s
	}
	if len(s.samples) < tt.window {
		s.samples = append(s.samples, d)
	} else {
		s.samples[s.next] = d
	}
	s.next = (s.next + 1) % tt.window
	s.count++
	tt.mu.Unlock()

	if tt.eventBus != nil {
		tt.eventBus.Publish(eventbus.Event{
			Type: eventbus.TypeOperationTimed,
			Data: map[string]interface{}{
				"operation": operation,
				"duration":  d.String(),
			},
		})
	}
}

func (tt *Tracker) Summary(operation string) Summary {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	s, ok := tt.timings[operation]
	if !ok || len(s.samples) == 0 {
		return Summary{}
	}

	var total, maxSeen time.Duration
	for _, d := range s.samples {
		total += d
		maxSeen = max(maxSeen, d)
	}
	return Summary{
		Count:   s.count,
		Average: total / time.Duration(len(s.samples)),
		Max:     maxSeen,
	}
}

// Operations lists every operation observed so far, sorted.
func (tt *Tracker) Operations() []string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	ops := make([]string, 0, len(tt.timings))
	for op := range tt.timings {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (tt *Tracker) Reset() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.timings = make(map[string]*series)
}

package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"vision-worker/internal/logger"
)

// GoCV is the OpenCV binding. The native library is linked into the
// process, so readiness is established by a self-test: allocate a matrix and
// read the library version. A warm-up delay can hold the self-test back to
// mimic a binding that needs time to load.
const selfTestRetryInterval = 100 * time.Millisecond

type GoCV struct {
	log       logger.Logger
	createdAt time.Time
	warmup    time.Duration
	now       func() time.Time

	ready   atomic.Bool
	version atomic.Value

	mu        sync.Mutex
	callbacks []callback
	nextID    uint64
	timer     *time.Timer
}

type callback struct {
	id uint64
	fn func()
}

type Option func(*GoCV)

// WithWarmup delays readiness by d from construction.
func WithWarmup(d time.Duration) Option {
	return func(g *GoCV) { g.warmup = d }
}

func WithLogger(log logger.Logger) Option {
	return func(g *GoCV) { g.log = log }
}

func NewGoCV(opts ...Option) *GoCV {
	g := &GoCV{
		log: logger.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.createdAt = g.now()
	return g
}

func (g *GoCV) Name() string {
	return "gocv"
}

// Version is the OpenCV version string once the engine is ready.
func (g *GoCV) Version() string {
	if v, ok := g.version.Load().(string); ok {
		return v
	}
	return ""
}

func (g *GoCV) State() State {
	if g.ready.Load() {
		return Ready
	}
	return Unavailable
}

func (g *GoCV) Usable() bool {
	if g.ready.Load() {
		return true
	}
	if g.now().Sub(g.createdAt) < g.warmup {
		return false
	}
	if !g.selfTest() {
		return false
	}

	if g.ready.CompareAndSwap(false, true) {
		g.log.Info("Engine", "native binding ready", map[string]interface{}{
			"opencv_version": g.Version(),
			"gocv_version":   gocv.Version(),
		})
		g.fire()
	}
	return true
}

// OnInitialized arms a timer for the remaining warm-up and calls fn once
// the self-test succeeds. It is retried only while at least one
// callback is registered and not cancelled.
func (g *GoCV) OnInitialized(fn func()) (cancel func()) {
	if g.Usable() {
		fn()
		return func() {}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// fire may have drained the list between the check above and the lock
	if g.ready.Load() {
		go fn()
		return func() {}
	}

	g.nextID++
	id := g.nextID
	g.callbacks = append(g.callbacks, callback{id: id, fn: fn})
	if g.timer == nil {
		remaining := g.warmup - g.now().Sub(g.createdAt)
		if remaining < 0 {
			remaining = 0
		}
		g.timer = time.AfterFunc(remaining, g.retry)
	}

	return func() { g.remove(id) }
}

func (g *GoCV) remove(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, cb := range g.callbacks {
		if cb.id == id {
			g.callbacks = append(g.callbacks[:i:i], g.callbacks[i+1:]...)
			break
		}
	}
	if len(g.callbacks) == 0 {
		g.stopTimer()
	}
}

// Retrying reports whether a self-test retry is scheduled.
func (g *GoCV) Retrying() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}

func (g *GoCV) retry() {
	if g.Usable() {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.callbacks) == 0 || g.timer == nil {
		g.stopTimer()
		return
	}
	g.timer.Reset(selfTestRetryInterval)
}

// stopTimer must be called with mu held.
func (g *GoCV) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *GoCV) fire() {
	g.mu.Lock()
	callbacks := g.callbacks
	g.callbacks = nil
	g.stopTimer()
	g.mu.Unlock()

	for _, cb := range callbacks {
		cb.fn()
	}
}

func (g *GoCV) selfTest() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warning("Engine", "native self-test panicked", map[string]interface{}{
				"panic": r,
			})
			ok = false
		}
	}()

	m := gocv.NewMatWithSize(1, 1, gocv.MatTypeCV8UC4)
	defer m.Close()
	if m.Empty() {
		return false
	}

	v := gocv.OpenCVVersion()
	if v == "" {
		return false
	}
	g.version.Store(v)
	return true
}

// Package gate waits for a vision engine to become usable and reports the
// outcome exactly once.
package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"vision-worker/internal/engine"
	"vision-worker/internal/logger"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrEngineTimeout carries the message reported to callers when the engine
// never became usable.
var ErrEngineTimeout = errors.New("engine load timeout")

type Result int

const (
	TimedOut Result = iota
	Ready
)

func (r Result) String() string {
	if r == Ready {
		return "ready"
	}
	return "timed_out"
}

// AwaitReady blocks until eng is usable or the accumulated polling time
// exceeds timeout. Engines implementing engine.Notifier are observed
// through their notification instead of being polled. A cancelled ctx
// returns ctx.Err().
func AwaitReady(ctx context.Context, eng engine.Engine, timeout, pollInterval time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	if eng.Usable() {
		return Ready, nil
	}

	if n, ok := eng.(engine.Notifier); ok {
		return awaitNotification(ctx, n, timeout)
	}
	return poll(ctx, eng, timeout, pollInterval)
}

func poll(ctx context.Context, eng engine.Engine, timeout, pollInterval time.Duration) (Result, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return TimedOut, ctx.Err()
		case <-ticker.C:
		}

		if eng.Usable() {
			return Ready, nil
		}
		if elapsed > timeout {
			return TimedOut, nil
		}
		elapsed += pollInterval
	}
}

func awaitNotification(ctx context.Context, n engine.Notifier, timeout time.Duration) (Result, error) {
	initialized := make(chan struct{})
	var once sync.Once
	cancel := n.OnInitialized(func() {
		once.Do(func() { close(initialized) })
	})
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-initialized:
		return Ready, nil
	case <-timer.C:
		return TimedOut, nil
	case <-ctx.Done():
		return TimedOut, ctx.Err()
	}
}

// Gate runs AwaitReady once per worker and remembers the answer.
type Gate struct {
	engine       engine.Engine
	timeout      time.Duration
	pollInterval time.Duration
	log          logger.Logger

	once  sync.Once
	state atomic.Int32
}

func New(eng engine.Engine, timeout, pollInterval time.Duration, log logger.Logger) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	return &Gate{
		engine:       eng,
		timeout:      timeout,
		pollInterval: pollInterval,
		log:          log,
	}
}

// Wait performs the readiness wait on the first call and returns
// (result, true). Every later call returns immediately with first=false
// and must not emit anything. A wait cut short by ctx is reported as
// first=false as well: there is no terminal outcome to announce.
func (g *Gate) Wait(ctx context.Context) (res Result, first bool) {
	g.once.Do(func() {
		started := time.Now()
		r, err := AwaitReady(ctx, g.engine, g.timeout, g.pollInterval)
		if err != nil {
			g.log.Debug("Gate", "readiness wait cancelled", map[string]interface{}{
				"engine": g.engine.Name(),
				"error":  err.Error(),
			})
			return
		}

		res, first = r, true
		if r == Ready {
			g.state.Store(int32(engine.Ready))
		}
		g.log.Info("Gate", "readiness resolved", map[string]interface{}{
			"engine":  g.engine.Name(),
			"result":  r.String(),
			"elapsed": time.Since(started).String(),
		})
	})
	return res, first
}

// EngineUsable queries the engine directly without resolving the gate.
func (g *Gate) EngineUsable() bool {
	return g.engine.Usable()
}

func (g *Gate) State() engine.State {
	return engine.State(g.state.Load())
}

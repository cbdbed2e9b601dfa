// Package engine binds the native vision library and exposes its
// readiness. An engine starts Unavailable and, once Usable reports true,
// stays Ready for the life of the process.
package engine

// State is the observable readiness of an engine.
type State int32

const (
	Unavailable State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "unavailable"
}

// Engine is the queryable readiness surface of a vision binding.
type Engine interface {
	Name() string
	Usable() bool
}

// Notifier is implemented by engines that announce initialisation instead
// of being polled. The callback runs at most once; it may run immediately
// if initialisation already completed. cancel withdraws the callback once
// the caller stops waiting.
type Notifier interface {
	OnInitialized(fn func()) (cancel func())
}

// Polled hides a Notifier implementation so readiness is discovered by
// polling Usable.
func Polled(e Engine) Engine {
	return polled{e}
}

type polled struct {
	Engine
}

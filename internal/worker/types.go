package worker

import (
	"vision-worker/internal/processing/filters"
)

// FilterRequest is one unit of work. Pixels is interleaved RGBA and must
// hold exactly Width*Height*4 bytes.
type FilterRequest struct {
	Width  int
	Height int
	Pixels []byte
	Kind   filters.Kind
}

// FilterResponse is always RGBA with the request's dimensions.
type FilterResponse struct {
	Width  int
	Height int
	Pixels []byte
}

type EventKind int

const (
	EventLoaded EventKind = iota + 1
	EventError
	EventResult
)

func (k EventKind) String() string {
	switch k {
	case EventLoaded:
		return "LOADED"
	case EventError:
		return "ERROR"
	case EventResult:
		return "RESULT"
	default:
		return "UNKNOWN"
	}
}

// Event is everything the worker ever emits: Loaded, Error(Message) or
// Result(Response).
type Event struct {
	Kind     EventKind
	Message  string
	Response FilterResponse
}

func Loaded() Event {
	return Event{Kind: EventLoaded}
}

func Failure(message string) Event {
	return Event{Kind: EventError, Message: message}
}

func Result(resp FilterResponse) Event {
	return Event{Kind: EventResult, Response: resp}
}

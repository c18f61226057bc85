package module

import "github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"

// Options carries module-specific setup values (API keys, feature flags),
// read by the module's Setup method. Kept as a plain map rather than a
// typed struct per module, since modules are opaque to the core (§1).
type Options map[string]string

// EngineHandle is the single seam a module uses to call back into the
// engine during setup and event handling. It owns the bus, the stop
// signal, and anything else the module needs, and is scoped to the
// lifetime of one scan (§9 Design Notes: replace mutable globals with an
// explicit engine handle).
type EngineHandle interface {
	// Emit publishes a new event produced in response to handling another
	// event. The returned event carries its computed hash.
	Emit(eventType, data string, opts ...eventmodel.Option) (*eventmodel.Event, error)

	// CheckForStop reports whether the module should stop processing
	// cooperatively (scan aborted, sandbox deadline approaching).
	CheckForStop() bool
}

// Module is the contract every scan module honors (§4.2), independent of
// the language or transport it is implemented in.
type Module interface {
	// Describe returns the module's static descriptor.
	Describe() Descriptor

	// Setup performs one-shot initialization. It must complete quickly and
	// may fail with a Config-kind error (e.g. missing API key), in which
	// case the module enters the error state and is skipped for the rest
	// of the scan.
	Setup(handle EngineHandle, options Options) error

	// WatchedEvents returns the event types this module consumes.
	WatchedEvents() []string

	// ProducedEvents returns the event types this module may emit.
	ProducedEvents() []string

	// HandleEvent processes one event, optionally emitting further events
	// through the EngineHandle supplied to Setup. Implementations must not
	// block indefinitely and should honor EngineHandle.CheckForStop at
	// their own checkpoints.
	HandleEvent(event *eventmodel.Event) error
}

// Closer is implemented by modules that need teardown at scan end. It is
// optional: the engine type-asserts for it and calls Close once when the
// scan run ends, even on an aborted scan. A module whose Setup failed is
// not wired into the scan and is not closed.
type Closer interface {
	Close() error
}

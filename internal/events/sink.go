package events

import "context"

// Sink consumes individual events. The Reporter invokes sinks one event at
// a time from a single goroutine, so implementations see events in arrival
// order and need no internal synchronization against the Reporter.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Reporter satisfies this interface
// so engine components stay agnostic about transport.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops everything. Handy default for tests.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}

package events

// Event is a structured state change emitted by the lending core.
type Event interface {
	EventType() string
}

// Emitter delivers events to downstream subscribers such as the analytics
// publisher or the metrics collector. Implementations must not block the
// caller for long; the core never waits for acknowledgment.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events. It lets components expose events
// optionally.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Multi fans every event out to each emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

package events

import "questreward/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Recordable is implemented by events that can be flattened into the generic
// attribute form consumed by streams and audit sinks.
type Recordable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f == nil {
		return
	}
	f(evt)
}

// Multi fans a single event out to every non-nil emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}

// ToRecord flattens an event into its attribute form. Events that do not
// implement Recordable are returned with their type only.
func ToRecord(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if rec, ok := evt.(Recordable); ok {
		if out := rec.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

package types

// Event represents a typed event emitted during ledger state transitions.
// Sequence and Timestamp are stamped by the broadcaster that fans the event
// out to subscribers; they are zero when the event has not been published.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Sequence   uint64            `json:"sequence,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}
	return &out
}

package events

// Event represents a structured state change emitted by the marketplace.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (streams, journals,
// metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Record is the flattened form of an event used on the wire and in the
// journal.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (r Record) EventType() string { return r.Type }

// Recordable events know how to flatten themselves.
type Recordable interface {
	Event
	Record() Record
}

// Flatten converts any event into a Record. Events that do not implement
// Recordable only carry their type.
func Flatten(evt Event) Record {
	switch v := evt.(type) {
	case nil:
		return Record{}
	case Record:
		return v.clone()
	case Recordable:
		return v.Record().clone()
	default:
		return Record{Type: evt.EventType(), Attributes: map[string]string{}}
	}
}

func (r Record) clone() Record {
	attrs := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	return Record{Type: r.Type, Attributes: attrs}
}

// Fanout delivers each event to every non-nil emitter in order.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

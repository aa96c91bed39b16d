package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultBrokerHistory = 1024

// Envelope is a sequenced record delivered to stream subscribers.
type Envelope struct {
	Sequence  uint64 `json:"sequence"`
	Cursor    string `json:"cursor"`
	Timestamp int64  `json:"timestamp"`
	Record
}

// Broker keeps a bounded history of recent events and fans new ones out to
// live subscribers. Slow subscribers drop events rather than block Emit; they
// can resume from their last cursor.
type Broker struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	nextID  uint64
	history []Envelope
	subs    map[uint64]chan Envelope
	nowFn   func() time.Time
}

// NewBroker constructs a broker retaining up to history envelopes. A
// non-positive value selects the default.
func NewBroker(history int) *Broker {
	if history <= 0 {
		history = defaultBrokerHistory
	}
	return &Broker{
		limit: history,
		subs:  make(map[uint64]chan Envelope),
		nowFn: time.Now,
	}
}

// Emit implements Emitter.
func (b *Broker) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	record := Flatten(evt)
	if record.Type == "" {
		return
	}
	b.mu.Lock()
	b.seq++
	env := Envelope{
		Sequence:  b.seq,
		Cursor:    strconv.FormatUint(b.seq, 10),
		Timestamp: b.nowFn().Unix(),
		Record:    record,
	}
	b.history = append(b.history, env)
	if len(b.history) > b.limit {
		trimmed := make([]Envelope, b.limit)
		copy(trimmed, b.history[len(b.history)-b.limit:])
		b.history = trimmed
	}
	// Sends stay under mu so cancel cannot close a channel mid-send.
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a subscriber and returns the envelopes recorded after
// cursor. The returned cancel func is idempotent and also fires when ctx ends.
func (b *Broker) Subscribe(ctx context.Context, cursor string) (<-chan Envelope, func(), []Envelope) {
	updates := make(chan Envelope, 64)
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	backlog := make([]Envelope, 0, len(b.history))
	for _, env := range b.history {
		if env.Sequence > since {
			env.Record = env.Record.clone()
			backlog = append(backlog, env)
		}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Recent returns up to limit of the newest envelopes, oldest first.
func (b *Broker) Recent(limit int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]Envelope, 0, len(b.history)-start)
	for _, env := range b.history[start:] {
		env.Record = env.Record.clone()
		out = append(out, env)
	}
	return out
}

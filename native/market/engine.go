package market

import (
	"crypto/rand"
	"io"
	"sort"
	"sync"
	"time"

	"servicemarket/core/events"
	"servicemarket/storage"
)

// Engine runs marketplace operations against a transactional store. Each
// mutating call executes inside exactly one storage transaction and emits its
// events only after that transaction commits.
type Engine struct {
	db      storage.Database
	emitter events.Emitter
	nowFn   func() int64
	entropy io.Reader

	assetsMu      sync.RWMutex
	paymentAssets map[string]struct{}
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(db storage.Database) *Engine {
	return &Engine{
		db:      db,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		entropy: rand.Reader,
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets it to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEntropy overrides the randomness used to generate the registry
// capability key.
func (e *Engine) SetEntropy(r io.Reader) {
	if r == nil {
		r = rand.Reader
	}
	e.entropy = r
}

// SetPaymentAssets restricts listings to the given payment asset symbols. An
// empty list accepts any well-formed symbol.
func (e *Engine) SetPaymentAssets(symbols []string) error {
	allowed := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		normalized, err := NormalizePaymentAsset(symbol)
		if err != nil {
			return err
		}
		allowed[normalized] = struct{}{}
	}
	e.assetsMu.Lock()
	e.paymentAssets = allowed
	e.assetsMu.Unlock()
	return nil
}

// PaymentAssets lists the configured payment assets in sorted order.
func (e *Engine) PaymentAssets() []string {
	e.assetsMu.RLock()
	defer e.assetsMu.RUnlock()
	out := make([]string, 0, len(e.paymentAssets))
	for symbol := range e.paymentAssets {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) paymentAsset(symbol string) (string, error) {
	normalized, err := NormalizePaymentAsset(symbol)
	if err != nil {
		return "", err
	}
	e.assetsMu.RLock()
	defer e.assetsMu.RUnlock()
	if len(e.paymentAssets) == 0 {
		return normalized, nil
	}
	if _, ok := e.paymentAssets[normalized]; !ok {
		return "", ErrUnsupportedAsset
	}
	return normalized, nil
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// txn carries the store and the events queued by one operation.
type txn struct {
	store  *marketStore
	now    int64
	queued []events.Event
}

func (t *txn) emit(evt events.Event) {
	if evt != nil {
		t.queued = append(t.queued, evt)
	}
}

func (t *txn) timestamp() uint64 {
	if t.now < 0 {
		return 0
	}
	return uint64(t.now)
}

// update runs fn in a write transaction. Events queued by fn are delivered
// only when the transaction commits.
func (e *Engine) update(fn func(*txn) error) error {
	if e == nil || e.db == nil {
		return errNilState
	}
	var committed []events.Event
	err := e.db.Update(func(tx storage.Tx) error {
		t := &txn{store: newMarketStore(tx), now: e.now()}
		if err := fn(t); err != nil {
			return err
		}
		committed = t.queued
		return nil
	})
	if err != nil {
		return err
	}
	for _, evt := range committed {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) view(fn func(*marketStore) error) error {
	if e == nil || e.db == nil {
		return errNilState
	}
	return e.db.View(func(tx storage.Tx) error {
		return fn(newMarketStore(tx))
	})
}

// activeRegistry loads the registry for a market operation and rejects the
// call while the marketplace is paused.
func (t *txn) activeRegistry() (*Registry, error) {
	reg, err := t.store.registry()
	if err != nil {
		return nil, err
	}
	if reg.Paused {
		return nil, ErrMarketPaused
	}
	return reg, nil
}

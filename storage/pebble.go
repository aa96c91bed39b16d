package storage

import (
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleDB backs the state with cockroachdb/pebble. Updates are staged in an
// indexed batch so the callback can read its own writes; the mutex keeps
// read-modify-write cycles from interleaving since pebble itself does not
// detect write conflicts.
type PebbleDB struct {
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleDB(path string) (*PebbleDB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) View(fn func(Tx) error) error {
	snap := p.db.NewSnapshot()
	defer snap.Close()
	return fn(readOnlyTx{get: func(key []byte) ([]byte, error) {
		return pebbleGet(snap, key)
	}})
}

func (p *PebbleDB) Update(fn func(Tx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.db.NewIndexedBatch()
	if err := fn(&pebbleTx{batch: batch}); err != nil {
		_ = batch.Close()
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		_ = batch.Close()
		return err
	}
	return batch.Close()
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

type pebbleTx struct {
	batch *pebble.Batch
}

func (t *pebbleTx) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return pebbleGet(t.batch, key)
}

func (t *pebbleTx) Has(key []byte) (bool, error) {
	value, err := t.Get(key)
	return value != nil, err
}

func (t *pebbleTx) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return t.batch.Set(key, value, nil)
}

func (t *pebbleTx) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return t.batch.Delete(key, nil)
}

func pebbleGet(r pebble.Reader, key []byte) ([]byte, error) {
	value, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

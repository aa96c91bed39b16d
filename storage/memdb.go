package storage

import "sync"

// MemDB is an in-memory Database used by tests and ephemeral deployments.
type MemDB struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (db *MemDB) View(fn func(Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return fn(readOnlyTx{get: func(key []byte) ([]byte, error) {
		return cloneBytes(db.data[string(key)]), nil
	}})
}

// Update stages writes in an overlay and folds them into the backing map only
// when fn succeeds.
func (db *MemDB) Update(fn func(Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	tx := &memTx{base: db.data, staged: make(map[string][]byte), deleted: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	for key := range tx.deleted {
		delete(db.data, key)
	}
	for key, value := range tx.staged {
		db.data[key] = value
	}
	return nil
}

func (db *MemDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// Len reports the number of committed keys.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

type memTx struct {
	base    map[string][]byte
	staged  map[string][]byte
	deleted map[string]struct{}
}

func (tx *memTx) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	k := string(key)
	if value, ok := tx.staged[k]; ok {
		return cloneBytes(value), nil
	}
	if _, ok := tx.deleted[k]; ok {
		return nil, nil
	}
	return cloneBytes(tx.base[k]), nil
}

func (tx *memTx) Has(key []byte) (bool, error) {
	value, err := tx.Get(key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

func (tx *memTx) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	k := string(key)
	delete(tx.deleted, k)
	if value == nil {
		value = []byte{}
	}
	tx.staged[k] = cloneBytes(value)
	return nil
}

func (tx *memTx) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	k := string(key)
	delete(tx.staged, k)
	tx.deleted[k] = struct{}{}
	return nil
}
